package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.File()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			cfg, err := config.Default()
			if err != nil {
				return err
			}
			reader := bufio.NewReader(os.Stdin)

			fmt.Print("Gateway URL (wss://...): ")
			url, _ := reader.ReadString('\n')
			cfg.Gateway.URL = strings.TrimSpace(url)
			if cfg.Gateway.URL == "" {
				return fmt.Errorf("gateway URL is required")
			}

			fmt.Print("Gateway token (blank if none): ")
			token, _ := reader.ReadString('\n')
			cfg.Gateway.Token = strings.TrimSpace(token)

			fmt.Print("Dashboard password (blank disables auth): ")
			pw, _ := reader.ReadString('\n')
			cfg.Server.Password = strings.TrimSpace(pw)

			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			fmt.Println("start the daemon with: foyerd")
			return nil
		},
	}
}
