package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"llamaworker/internal/client"
	"llamaworker/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "llamaworker",
	Short: "Run local GGUF models through an llama.cpp worker",
	Long:  "llamaworker loads GGUF models and runs tokenize/ingest/generate requests against a single-threaded native worker.",
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// startWorker wires a fresh Control/Response channel pair between a Worker
// goroutine and a Client, mirroring the lifecycle every cmd/ entry point
// needs: spin the worker up before issuing requests, and Exit it on the
// way out.
func startWorker() *client.Client {
	if viper.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	controls := make(chan *worker.Control)
	responses := make(chan *worker.Response)

	w := worker.New(controls, responses, logrus.NewEntry(logrus.StandardLogger()))
	go w.Run()

	return client.New(controls, responses)
}

// newInterruptCanceller wires SIGINT/SIGTERM into Stream.Cancel for
// whatever Ingest or Generate call is in flight when the signal arrives.
// onHandshake should be passed straight through to Client.Ingest/
// Client.Generate; stop must be called once the command is done issuing
// streaming calls to release the signal handler.
func newInterruptCanceller() (onHandshake func(*client.Stream), stop func()) {
	var current atomic.Pointer[client.Stream]

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sig:
			if s := current.Load(); s != nil {
				s.Cancel()
			}
		case <-done:
		}
	}()

	onHandshake = func(s *client.Stream) { current.Store(s) }
	stop = func() {
		signal.Stop(sig)
		close(done)
	}
	return onHandshake, stop
}
