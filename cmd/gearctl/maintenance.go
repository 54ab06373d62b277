package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(flushAuditCmd)
}

// ─── reconcile ──────────────────────────────────────────────────────────────

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Close open transactions whose items are all resolved",
	Long: `Scan every OPEN transaction and close the ones with no outstanding item.
Held items that no open transaction references are listed as orphans and
left untouched. Safe to run repeatedly.`,
	RunE: withEnv(func(ctx context.Context, e *env) error {
		rep, err := e.engine.ReconcileStaleTransactions(ctx, actorID)
		if err != nil {
			return err
		}
		if len(rep.Orphans) > 0 {
			fmt.Fprintf(os.Stderr, "%d orphaned item(s) need a manual decision\n", len(rep.Orphans))
		}
		return printJSON(rep)
	}),
}

// ─── cleanup-assignments ────────────────────────────────────────────────────

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-assignments",
	Short: "Clear holders left on items that are no longer checked out",
	RunE: withEnv(func(ctx context.Context, e *env) error {
		rep, err := e.engine.CleanupStaleAssignments(ctx, actorID)
		if err != nil {
			return err
		}
		return printJSON(rep)
	}),
}

// ─── flush-audit ────────────────────────────────────────────────────────────

var flushAuditCmd = &cobra.Command{
	Use:   "flush-audit",
	Short: "Retry audit entries that could not be written",
	RunE: withEnv(func(ctx context.Context, e *env) error {
		n, err := e.engine.FlushAuditBacklog(ctx)
		left, lerr := e.engine.AuditBacklogLen(ctx)
		if lerr != nil {
			return lerr
		}
		if perr := printJSON(map[string]any{"flushed": n, "remaining": left}); perr != nil {
			return perr
		}
		return err
	}),
}
