// Package cli implements the infrasage command line: the API server and
// one-shot commands against the same database.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/infrasage/infrasage/internal/config"
	"github.com/infrasage/infrasage/internal/server"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type app struct {
	configPath string
	envFile    string
	jsonOutput bool

	configs config.ConfigManager
	cfg     *config.Config

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand returns the infrasage root command bound to the process IO.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO returns the root command writing to out and errOut.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:   "infrasage",
		Short: "Infrastructure decision engine",
		Long: "infrasage turns free-text infrastructure requests into a scored, explained " +
			"architecture decision and learns from every decision it makes.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.loadConfig(cmd.Context()) },
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultConfigPath, "path to the config file")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "print JSON instead of text")

	cmd.AddCommand(
		newServeCmd(a),
		newReasonCmd(a),
		newHistoryCmd(a),
		newSummaryCmd(a),
		newLearnCmd(a),
		newInsightsCmd(a),
		newCleanupCmd(a),
	)
	return cmd
}

// loadConfig applies the dotenv file, then file, environment and defaults.
// A missing default .env is ignored; a missing explicit one is an error.
func (a *app) loadConfig(ctx context.Context) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || a.envFile != ".env" {
				return fmt.Errorf("load env file %s: %w", a.envFile, err)
			}
		}
	}

	mgr, err := config.NewConfigManager(a.configPath)
	if err != nil {
		return err
	}
	if err := mgr.Load(ctx); err != nil {
		return err
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}
	a.configs = mgr
	a.cfg = mgr.Get(ctx)
	return nil
}

// openCore builds the engine for a one-shot command. Application logs go to
// the configured file only so they never mix with command output.
func (a *app) openCore(ctx context.Context) (*server.Core, error) {
	cfg := *a.cfg.Clone()
	cfg.Logging.Stdout = false
	return server.NewCore(ctx, cfg, nil)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
