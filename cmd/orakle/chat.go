package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/khromalabs/ainara-sub000/internal/protocol"
)

// chatCmd creates the chat command for interactive conversations
func chatCmd() *cobra.Command {
	var contextID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat on the terminal",
		Long: `Start an interactive chat session in the terminal.
The conversation is persisted per context; reuse a context name to continue
where you left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), contextID)
		},
	}
	cmd.Flags().StringVar(&contextID, "context", "default", "conversation context to use")
	return cmd
}

func runChat(ctx context.Context, contextID string) error {
	eng, err := buildEngine(ctx, contextID, false)
	if err != nil {
		return err
	}
	defer eng.close()

	fmt.Printf("Context: %s\n", contextID)
	fmt.Println("Type your message and press Enter. Type 'exit' or 'quit' to end the conversation.")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		fmt.Print("Orakle: ")
		err := eng.manager.ProcessTurn(ctx, input, printEvent)
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		fmt.Println()
	}
	return scanner.Err()
}

// printEvent renders the event stream for a plain terminal.
func printEvent(ev protocol.Event) error {
	switch {
	case ev.Type == protocol.TypeMessage && ev.Event == protocol.EventStream:
		fmt.Print(ev.StreamText())
	case ev.Type == protocol.TypeContent && ev.Event == protocol.EventFull:
		if c, ok := ev.Content.(protocol.FullContent); ok {
			fmt.Printf("\n%s\n", c.Content)
		}
	case ev.Event == protocol.EventError:
		if c, ok := ev.Content.(protocol.MessageContent); ok {
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", c.Message)
		}
	case ev.Event == protocol.EventInfoMessage:
		if c, ok := ev.Content.(protocol.MessageContent); ok {
			fmt.Printf("\n[%s]\n", c.Message)
		}
	}
	return nil
}
