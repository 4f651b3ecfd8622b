package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v2"
	"github.com/spf13/cobra"

	"llamaworker/internal/config"
	"llamaworker/internal/gpu"
	"llamaworker/internal/model"
)

var loadCmd = &cobra.Command{
	Use:   "load [MODEL_PATH]",
	Short: "Load a GGUF model into the worker and report its context size",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().Int("gpu-layers", -1, "layers to offload to GPU (-1 auto-detects)")
}

func runLoad(cmd *cobra.Command, args []string) error {
	path := args[0]

	info, err := model.RequireGGUF(path)
	if err != nil {
		return err
	}
	fmt.Printf("Model: %s (%s, %d params, vocab %d)\n", path, info.Architecture, info.Parameters, info.VocabSize)

	cfg := config.Load()
	params := cfg.Model
	if layers, _ := cmd.Flags().GetInt("gpu-layers"); layers >= 0 {
		params.GPULayers = layers
	} else {
		stat, statErr := os.Stat(path)
		var sizeBytes int64
		if statErr == nil {
			sizeBytes = stat.Size()
		}
		auto := gpu.AutoModelParams(sizeBytes)
		params.GPULayers = auto.GPULayers
	}

	c := startWorker()
	defer c.Exit()

	var bar *progressbar.ProgressBar
	handle, err := c.LoadModel(path, params, func(fraction float32) {
		if bar == nil {
			bar = progressbar.NewOptions(100, progressbar.OptionSetDescription("loading"))
		}
		bar.Set(int(fraction * 100))
	})
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	fmt.Println()
	fmt.Printf("Loaded model handle=%d\n", handle)

	ctxHandle, err := c.NewContext(handle, cfg.Context)
	if err != nil {
		return fmt.Errorf("load: new context: %w", err)
	}
	fmt.Printf("Context handle=%d size=%d batch=%d\n", ctxHandle, cfg.Context.ContextSize, cfg.Context.BatchSize)

	if err := c.FreeContext(ctxHandle); err != nil {
		return err
	}
	return c.FreeModel(handle)
}
