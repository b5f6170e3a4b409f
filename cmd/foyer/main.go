package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/dashclient"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "foyer",
		Short:   "foyer — personal dashboard CLI",
		Long:    "Talks to a running foyerd daemon: tasks, inbox, contacts, and assistant chat.",
		Version: version,
	}
	root.PersistentFlags().String("addr", "", "daemon address (default from config)")

	root.AddCommand(
		initCmd(),
		loginCmd(),
		statusCmd(),
		tasksCmd(),
		inboxCmd(),
		contactsCmd(),
		chatCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// client builds a dashclient from flags, config, and the saved token.
func client(cmd *cobra.Command) (*dashclient.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		path, err := config.File()
		if err != nil {
			return nil, err
		}
		cfg, err := config.Load(path)
		if err == nil {
			addr = cfg.Server.Addr
		} else {
			addr = "127.0.0.1:7773"
		}
	}
	return dashclient.New(addr, loadToken()), nil
}

func tokenPath() string {
	dir, err := config.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "session_token")
}

func loadToken() string {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func saveToken(token string) error {
	if _, err := config.EnsureDir(); err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), []byte(token), 0600)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Daemon and gateway connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			st, err := c.Status()
			if err != nil {
				return err
			}
			fmt.Printf("gateway:  %s\n", st.Gateway)
			if st.Session != "" {
				fmt.Printf("session:  %s\n", st.Session)
			}
			fmt.Printf("tasks:    %d open\n", st.OpenTasks)
			fmt.Printf("inbox:    %d pending\n", st.InboxPending)
			return nil
		},
	}
}
