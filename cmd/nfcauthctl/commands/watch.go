package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream active-tag-set changes until interrupted",
	}

	cmd.AddCommand(watchCountCmd())
	cmd.AddCommand(watchUidsCmd())

	return cmd
}

func watchCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Stream the active tag count on every change",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWatch("WATCHNBUIDS")
		},
	}
}

func watchUidsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uids",
		Short: "Stream the active tag set on every change (superuser only)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWatch("WATCHUIDS")
		},
	}
}

func runWatch(verb string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := streamRequest(ctx, socketPath, verb, func(line string) {
		fmt.Println(line)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
