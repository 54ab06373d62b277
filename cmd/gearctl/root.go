package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gear_checkout/app"
	"gear_checkout/config"
	"gear_checkout/lifecycle"

	"github.com/spf13/cobra"
)

var actorID string

var rootCmd = &cobra.Command{
	Use:   "gearctl",
	Short: "Maintenance tool for the gear checkout tracker",
	Long: `gearctl runs the repair and export jobs of the gear checkout tracker
against the same database and redis the server uses. Settings come from
.env, GEAR_CONFIG and the environment, exactly like the server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "user id recorded in the audit log (empty = system)")
}

// env is what every subcommand needs.
type env struct {
	cfg    config.Config
	deps   app.Deps
	engine *lifecycle.Engine
}

func openEnv() (*env, error) {
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.StoreDriver == "memory" {
		return nil, fmt.Errorf("gearctl needs STORE_DRIVER=postgres; the memory store lives inside the server")
	}
	d, err := app.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, deps: d, engine: app.NewEngine(cfg, d)}, nil
}

func (e *env) close() {
	if e.deps.RDB != nil {
		_ = e.deps.RDB.Close()
	}
	if e.deps.DB != nil {
		if sqlDB, err := e.deps.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// withEnv opens storage for the duration of fn.
func withEnv(fn func(ctx context.Context, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd.Context(), e)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
