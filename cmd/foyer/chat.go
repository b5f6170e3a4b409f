package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/dashclient"
)

func chatCmd() *cobra.Command {
	chat := &cobra.Command{
		Use:   "chat [session]",
		Short: "Chat with the assistant",
		Long:  "Opens an interactive chat on the given session (default \"dashboard\"). Streaming replies print as they arrive.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			session := "dashboard"
			if len(args) == 1 {
				session = args[0]
			}
			if err := c.SwitchSession(session); err != nil {
				return err
			}

			history, err := c.ChatHistory(session)
			if err == nil {
				for _, m := range history {
					printChatLine(m.Role, m.Content)
				}
			}

			// Stream events in the background; the prompt loop below owns stdin.
			go func() {
				var printed int
				err := c.Stream(func(ev dashclient.StreamEvent) bool {
					if ev.SessionKey != "" && ev.SessionKey != session {
						return true
					}
					switch ev.Type {
					case "chat.delta":
						// Print only the unseen tail of the growing text.
						if len(ev.Text) > printed {
							fmt.Print(ev.Text[printed:])
							printed = len(ev.Text)
						}
					case "chat.complete":
						if len(ev.Text) > printed {
							fmt.Print(ev.Text[printed:])
						}
						printed = 0
						fmt.Print("\n> ")
					case "chat.error":
						printed = 0
						fmt.Fprintf(os.Stderr, "\nchat error: %s\n> ", ev.Error)
					}
					return true
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "stream closed: %v\n", err)
				}
			}()

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Printf("chatting on %s (ctrl-d to quit)\n> ", session)
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					fmt.Print("> ")
					continue
				}
				if err := c.SendChat(text); err != nil {
					fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				}
				fmt.Print("> ")
			}
			fmt.Println()
			return nil
		},
	}

	history := &cobra.Command{
		Use:   "history [session]",
		Short: "Print cached chat history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			session := ""
			if len(args) == 1 {
				session = args[0]
			}
			msgs, err := c.ChatHistory(session)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printChatLine(m.Role, m.Content)
			}
			return nil
		},
	}
	chat.AddCommand(history)
	return chat
}

func printChatLine(role, content string) {
	prefix := "them"
	if role == "user" {
		prefix = "you "
	}
	fmt.Printf("%s | %s\n", prefix, content)
}
