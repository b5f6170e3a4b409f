package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/dashclient"
)

func tasksCmd() *cobra.Command {
	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			all, _ := cmd.Flags().GetBool("all")
			status := "open"
			if all {
				status = ""
			}
			tasks, err := c.ListTasks(status)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, t := range tasks {
				mark := " "
				if t.Status == "done" {
					mark = "x"
				}
				due := ""
				if t.DueAt != nil {
					due = "  due " + t.DueAt.Local().Format("Jan 2 15:04")
				}
				fmt.Printf("[%s] %-8s %s%s\n", mark, shortID(t.ID), t.Title, due)
			}
			return nil
		},
	}
	list.Flags().Bool("all", false, "include completed tasks")

	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			notes, _ := cmd.Flags().GetString("notes")
			dueStr, _ := cmd.Flags().GetString("due")
			var due *time.Time
			if dueStr != "" {
				t, err := time.ParseInLocation("2006-01-02 15:04", dueStr, time.Local)
				if err != nil {
					t2, err2 := time.ParseInLocation("2006-01-02", dueStr, time.Local)
					if err2 != nil {
						return fmt.Errorf("due must be YYYY-MM-DD or YYYY-MM-DD HH:MM")
					}
					t = t2
				}
				due = &t
			}
			task, err := c.CreateTask(strings.Join(args, " "), notes, due)
			if err != nil {
				return err
			}
			fmt.Printf("added %s\n", shortID(task.ID))
			return nil
		},
	}
	add.Flags().String("notes", "", "task notes")
	add.Flags().String("due", "", "due date (YYYY-MM-DD [HH:MM])")

	done := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			id, err := resolveTaskID(c, args[0])
			if err != nil {
				return err
			}
			if _, err := c.CompleteTask(id); err != nil {
				return err
			}
			fmt.Println("done")
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			id, err := resolveTaskID(c, args[0])
			if err != nil {
				return err
			}
			if err := c.DeleteTask(id); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}

	tasks.AddCommand(list, add, done, rm)
	return tasks
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveTaskID accepts a full id or an unambiguous prefix.
func resolveTaskID(c *dashclient.Client, prefix string) (string, error) {
	tasks, err := c.ListTasks("")
	if err != nil {
		return "", err
	}
	var match string
	for _, t := range tasks {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("ambiguous id %q", prefix)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no task matching %q", prefix)
	}
	return match, nil
}
