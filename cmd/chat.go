package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"llamaworker/internal/client"
	"llamaworker/internal/config"
	"llamaworker/internal/llama"
	"llamaworker/internal/model"
	"llamaworker/internal/sampler"
)

var chatCmd = &cobra.Command{
	Use:   "chat [MODEL_PATH]",
	Short: "Start an interactive chat session with a local model",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("template", "", "path to a chat_template.jinja file (defaults to a built-in template)")
}

func runChat(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := model.RequireGGUF(path); err != nil {
		return err
	}

	templatePath, _ := cmd.Flags().GetString("template")
	jinja := ""
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return fmt.Errorf("chat: read template: %w", err)
		}
		jinja = string(data)
	}
	tpl, err := client.NewChatTemplate(jinja)
	if err != nil {
		return fmt.Errorf("chat: compile template: %w", err)
	}

	cfg := config.Load()
	c := startWorker()
	defer c.Exit()

	modelHandle, err := c.LoadModel(path, cfg.Model, nil)
	if err != nil {
		return fmt.Errorf("chat: load model: %w", err)
	}
	defer c.FreeModel(modelHandle)

	ctxHandle, err := c.NewContext(modelHandle, cfg.Context)
	if err != nil {
		return fmt.Errorf("chat: new context: %w", err)
	}
	defer c.FreeContext(ctxHandle)

	fmt.Printf("Chatting with %s (type '/bye' to exit)\n", path)
	fmt.Print(">>> ")

	onHandshake, stop := newInterruptCanceller()
	defer stop()

	var history []client.ChatMessage
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "/bye" {
			fmt.Println("Goodbye!")
			break
		}
		if input == "" {
			fmt.Print(">>> ")
			continue
		}

		history = append(history, client.ChatMessage{Role: client.RoleUser, Content: input})
		prompt, err := tpl.Render(history)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			fmt.Print(">>> ")
			continue
		}

		if err := sendChatTurn(c, ctxHandle, prompt, &history, onHandshake); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Print(">>> ")
	}
	return scanner.Err()
}

func sendChatTurn(c *client.Client, ctxHandle uint64, prompt string, history *[]client.ChatMessage, onHandshake func(*client.Stream)) error {
	if _, _, err := c.Tokenize(ctxHandle, prompt); err != nil {
		return err
	}
	if err := c.Ingest(ctxHandle, onHandshake); err != nil {
		return err
	}

	var reply strings.Builder
	chain := &sampler.Chain{Stages: []sampler.Sampler{
		&sampler.RepetitionPenalty{LastN: 64, Penalty: 1.1},
		&sampler.TopK{K: 40},
		&sampler.TopP{P: 0.95},
		&sampler.Temperature{Temp: 0.8},
		&sampler.Probabilistic{},
	}}
	err := c.Generate(ctxHandle, chain, onHandshake, func(tok llama.Token) {
		fmt.Print(tok.Text)
		reply.WriteString(tok.Text)
	})
	fmt.Println()
	if err != nil {
		return err
	}
	*history = append(*history, client.ChatMessage{Role: client.RoleAssistant, Content: reply.String()})
	return nil
}
