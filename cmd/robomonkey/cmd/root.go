// Package cmd provides the CLI commands for robomonkey.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rpc"
	"github.com/robomonkey/robomonkey/pkg/version"
)

var (
	cfgPath string

	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robomonkey",
		Short: "Local-first code intelligence service",
		Long: `Robomonkey indexes source repositories into Postgres, embeds code
and docs for semantic search, and answers hybrid search and call-graph
queries over a local daemon socket.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate(version.String() + "\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReposCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		return err
	}
	return nil
}

// loadConfig reads the configured or default configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}

// dialDaemon connects to the daemon socket from the loaded config.
func dialDaemon() (*rpc.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := rpc.Dial(cfg.SocketPath)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// printJSON renders a value as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
