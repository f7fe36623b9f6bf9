package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Provision or remove a username/tag association",
	}

	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userDelCmd())

	return cmd
}

func userAddCmd() *cobra.Command {
	var wait int

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Associate username with the single tag presented within --wait seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reply, err := sendRequest(socketPath, fmt.Sprintf("ADDUSER %s %d", args[0], wait))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}

	cmd.Flags().IntVar(&wait, "wait", 10, "seconds to wait for exactly one active tag")
	return cmd
}

func userDelCmd() *cobra.Command {
	var wait int
	var all bool

	cmd := &cobra.Command{
		Use:   "del <username>",
		Short: "Remove a username/tag association",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			w := wait
			if all {
				w = -1
			}
			reply, err := sendRequest(socketPath, fmt.Sprintf("DELUSER %s %d", args[0], w))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}

	cmd.Flags().IntVar(&wait, "wait", 10, "seconds to wait for exactly one active tag to disassociate")
	cmd.Flags().BoolVar(&all, "all", false, "remove every tag associated with username, regardless of presence")
	return cmd
}
