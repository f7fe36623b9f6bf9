package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func authCmd() *cobra.Command {
	var wait int

	cmd := &cobra.Command{
		Use:   "auth <username>",
		Short: "Wait for a tag associated with username to authenticate",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reply, err := sendRequest(socketPath, fmt.Sprintf("WAITAUTH %s %d", args[0], wait))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}

	cmd.Flags().IntVar(&wait, "wait", 5, "seconds to wait for a matching tag")
	return cmd
}
