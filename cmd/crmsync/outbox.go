package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crmsync/internal/app"
	"crmsync/internal/models"
)

var (
	outboxStatus string
	outboxOwner  string
	outboxLimit  int
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and retry pending Chatwoot pushes",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outbox entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := uuid.Nil
		if outboxOwner != "" {
			var err error
			if owner, err = uuid.Parse(outboxOwner); err != nil {
				return fmt.Errorf("--owner: %w", err)
			}
		}
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		ctx, stop := signalContext()
		defer stop()

		store, err := app.OpenStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.ListOutbox(ctx, owner, models.OutboxStatus(outboxStatus), outboxLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOWNER\tACTION\tSTATUS\tATTEMPTS\tNEXT\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				e.ID, e.OwnerID, e.Payload.Action, e.Status, e.Attempts,
				e.NextAttemptAt.Format(time.RFC3339), e.LastError)
		}
		return w.Flush()
	},
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-arm an outbox entry for immediate delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		ctx, stop := signalContext()
		defer stop()

		store, err := app.OpenStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer store.Close()

		// a running server picks the entry up on its next poll
		d := app.NewDispatcher(cfg, store, nil, logger)
		if err := d.Retry(ctx, uuid.Nil, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entry %s is pending again\n", id)
		return nil
	},
}

func init() {
	outboxListCmd.Flags().StringVar(&outboxStatus, "status", "", "pending, done or dead")
	outboxListCmd.Flags().StringVar(&outboxOwner, "owner", "", "only entries of this owner id")
	outboxListCmd.Flags().IntVar(&outboxLimit, "limit", 50, "max entries")
	outboxCmd.AddCommand(outboxListCmd, outboxRetryCmd)
}
