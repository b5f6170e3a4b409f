package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func inboxCmd() *cobra.Command {
	inbox := &cobra.Command{
		Use:   "inbox",
		Short: "Review dropped files",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending inbox items",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			all, _ := cmd.Flags().GetBool("all")
			items, err := c.ListInbox(all)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("inbox empty")
				return nil
			}
			for _, it := range items {
				mark := " "
				if it.Archived {
					mark = "a"
				}
				fmt.Printf("[%s] %-8s %-24s %s\n", mark, shortID(it.ID), it.Source, it.Subject)
			}
			return nil
		},
	}
	list.Flags().Bool("all", false, "include archived items")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an inbox item body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			items, err := c.ListInbox(true)
			if err != nil {
				return err
			}
			for _, it := range items {
				if it.ID == args[0] || strings.HasPrefix(it.ID, args[0]) {
					fmt.Printf("%s (%s)\n\n%s\n", it.Subject, it.Source, it.Body)
					return nil
				}
			}
			return fmt.Errorf("no inbox item matching %q", args[0])
		},
	}

	archive := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive an inbox item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			items, err := c.ListInbox(false)
			if err != nil {
				return err
			}
			for _, it := range items {
				if it.ID == args[0] || strings.HasPrefix(it.ID, args[0]) {
					if err := c.ArchiveInbox(it.ID); err != nil {
						return err
					}
					fmt.Println("archived")
					return nil
				}
			}
			return fmt.Errorf("no inbox item matching %q", args[0])
		},
	}

	inbox.AddCommand(list, show, archive)
	return inbox
}
