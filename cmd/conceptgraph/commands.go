package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/conceptgraph-go/pkg/core"
	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// app carries the global flags and the loaded configuration.
type app struct {
	configPath string
	remoteAddr string
	jsonOut    bool

	cfg *core.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "conceptgraph",
		Short: "Learn statements into a concept graph and reason over it",
		Long: `conceptgraph keeps a weighted graph of concepts and associations.
Statements are learned into the graph and questions are answered with
ranked reasoning paths. The graph runs in process or behind a server.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Config file (.yaml, .json or .env). Defaults to the environment and ./.env")
	root.PersistentFlags().StringVar(&a.remoteAddr, "remote", "",
		"Talk to the server at this address instead of an in-process graph")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		a.serveCmd(),
		a.learnCmd(),
		a.askCmd(),
		a.searchCmd(),
		a.healthCmd(),
		a.maintainCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := core.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.remoteAddr != "" {
		cfg.Mode = core.ModeRemote
		cfg.Remote.Addr = a.remoteAddr
	}
	a.cfg = cfg
	return nil
}

// logger builds the command logger. Client commands stay quiet unless the
// config asks for debug output.
func (a *app) logger() (*logger.Logger, error) {
	if a.cfg.LogMode == "" {
		return logger.Nop(), nil
	}
	return logger.New(a.cfg.LogMode)
}

// withAdapter opens the configured adapter, runs fn and closes it.
func (a *app) withAdapter(ctx context.Context, fn func(storage.Adapter) error) error {
	log, err := a.logger()
	if err != nil {
		return err
	}
	adapter, err := core.OpenAdapter(ctx, a.cfg, core.WithLogger(log))
	if err != nil {
		return err
	}
	defer adapter.Close()
	return fn(adapter)
}

// withClient opens an in-process client, runs fn and closes it.
func (a *app) withClient(ctx context.Context, fn func(*core.Client) error) error {
	log, err := a.logger()
	if err != nil {
		return err
	}
	client, err := core.NewClient(ctx, a.cfg, core.WithLogger(log))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (a *app) print(w io.Writer, v interface{}, text func(io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), core.Version)
		},
	}
}
