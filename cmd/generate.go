package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"llamaworker/internal/config"
	"llamaworker/internal/llama"
	"llamaworker/internal/model"
	"llamaworker/internal/sampler"
)

var generateCmd = &cobra.Command{
	Use:   "generate [MODEL_PATH] [PROMPT]",
	Short: "Tokenize a prompt, ingest it, and stream generated tokens to stdout",
	Args:  cobra.ExactArgs(2),
	RunE:  runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().Float64("temperature", 0.8, "sampling temperature (0 disables)")
	generateCmd.Flags().Int("top-k", 40, "top-k candidates to keep (0 disables)")
	generateCmd.Flags().Float64("top-p", 0.95, "nucleus sampling threshold (1 disables)")
	generateCmd.Flags().Bool("greedy", false, "always pick the highest-probability token")
	generateCmd.Flags().StringSlice("stop", nil, "stop sequences that force end-of-sequence")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	path, prompt := args[0], args[1]

	if _, err := model.RequireGGUF(path); err != nil {
		return err
	}
	cfg := config.Load()

	c := startWorker()
	defer c.Exit()

	modelHandle, err := c.LoadModel(path, cfg.Model, nil)
	if err != nil {
		return fmt.Errorf("generate: load model: %w", err)
	}
	defer c.FreeModel(modelHandle)

	ctxHandle, err := c.NewContext(modelHandle, cfg.Context)
	if err != nil {
		return fmt.Errorf("generate: new context: %w", err)
	}
	defer c.FreeContext(ctxHandle)

	if _, _, err := c.Tokenize(ctxHandle, prompt); err != nil {
		return fmt.Errorf("generate: tokenize: %w", err)
	}

	onHandshake, stop := newInterruptCanceller()
	defer stop()

	if err := c.Ingest(ctxHandle, onHandshake); err != nil {
		return fmt.Errorf("generate: ingest: %w", err)
	}

	chain := buildSamplerChain(cmd)
	err = c.Generate(ctxHandle, chain, onHandshake, func(tok llama.Token) {
		fmt.Print(tok.Text)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	return nil
}

func buildSamplerChain(cmd *cobra.Command) *sampler.Chain {
	temp, _ := cmd.Flags().GetFloat64("temperature")
	topK, _ := cmd.Flags().GetInt("top-k")
	topP, _ := cmd.Flags().GetFloat64("top-p")
	greedy, _ := cmd.Flags().GetBool("greedy")
	stop, _ := cmd.Flags().GetStringSlice("stop")

	stages := []sampler.Sampler{
		&sampler.RepetitionPenalty{LastN: 64, Penalty: 1.1},
	}
	if len(stop) > 0 {
		stages = append(stages, &sampler.StopSequence{Sequences: stop})
	}
	if topK > 0 {
		stages = append(stages, &sampler.TopK{K: topK})
	}
	if topP > 0 && topP < 1 {
		stages = append(stages, &sampler.TopP{P: float32(topP)})
	}
	if temp > 0 {
		stages = append(stages, &sampler.Temperature{Temp: float32(temp)})
	}
	if greedy {
		stages = append(stages, &sampler.Greedy{})
	} else {
		stages = append(stages, &sampler.Probabilistic{})
	}
	return &sampler.Chain{Stages: stages}
}
