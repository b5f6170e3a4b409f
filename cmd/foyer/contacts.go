package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func contactsCmd() *cobra.Command {
	contacts := &cobra.Command{
		Use:   "contacts",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			list, err := c.ListContacts()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no contacts")
				return nil
			}
			for _, ct := range list {
				line := ct.Name
				if ct.Email != "" {
					line += "  <" + ct.Email + ">"
				}
				if ct.Phone != "" {
					line += "  " + ct.Phone
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	return contacts
}
