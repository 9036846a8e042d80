package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robomonkey/robomonkey/internal/api"
)

func newReposCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List registered repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepos(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")

	return cmd
}

func runRepos(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	client, _, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	var res api.ListReposResult
	if err := client.Call(ctx, "list_repos", nil, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	if len(res.Repos) == 0 {
		fmt.Fprintln(out, faint("no repositories registered"))
		return nil
	}
	for _, r := range res.Repos {
		mark := green("●")
		if !r.Enabled {
			mark = red("●")
		}
		flags := ""
		if r.AutoIndex {
			flags += " index"
		}
		if r.AutoEmbed {
			flags += " embed"
		}
		if r.AutoWatch {
			flags += " watch"
		}
		fmt.Fprintf(out, "%s %s  %s  %s%s\n",
			mark, cyan(r.Name), r.RootPath, faint(r.SchemaName), faint(flags))
	}
	return nil
}
