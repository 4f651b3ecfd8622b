package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"llamaworker/internal/promptutil"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens [TOKENIZER_JSON] [PROMPT_FILE]",
	Short: "Estimate the token count of a prompt file against a tokenizer.json",
	Args:  cobra.ExactArgs(2),
	RunE:  runTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)
}

func runTokens(cmd *cobra.Command, args []string) error {
	tokenizerPath, promptPath := args[0], args[1]

	data, err := os.ReadFile(promptPath)
	if err != nil {
		return fmt.Errorf("tokens: read prompt: %w", err)
	}

	count, err := promptutil.EstimateTokens(tokenizerPath, string(data))
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}

	fmt.Printf("%d tokens (estimated via %s)\n", count, tokenizerPath)
	return nil
}
