package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robomonkey/robomonkey/internal/api"
)

func newStatusCmd() *cobra.Command {
	var (
		repo       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, or index status with --repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, repo, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Show index status for this repository")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, repo string, jsonOutput bool) error {
	client, _, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()
	out := cmd.OutOrStdout()

	if repo == "" {
		var res api.DaemonStatusResult
		if err := client.Call(ctx, "daemon_status", nil, &res); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, res)
		}
		for _, inst := range res.Instances {
			mark := green("●")
			if inst.Status != "RUNNING" {
				mark = yellow("●")
			}
			fmt.Fprintf(out, "%s %s  %s  pid %d  heartbeat %s\n",
				mark, inst.InstanceID, inst.Status, inst.PID,
				faint(inst.LastHeartbeat.Format("15:04:05")))
		}
		fmt.Fprintf(out, "queue:")
		for status, n := range res.Queue {
			fmt.Fprintf(out, " %s=%d", status, n)
		}
		fmt.Fprintln(out)
		if res.Worker != nil {
			fmt.Fprintf(out, "workers: %d/%d active\n",
				res.Worker.ActiveJobs, res.Worker.GlobalLimit)
		}
		return nil
	}

	var res api.IndexStatusResult
	if err := client.Call(ctx, "index_status", api.RepoParams{Repo: repo}, &res); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, res)
	}

	fmt.Fprintf(out, "%s %s %s\n", cyan(res.Repo), faint("schema"), faint(res.SchemaName))
	if res.LastIndexedAt != nil {
		fmt.Fprintf(out, "last indexed: %s (%s)\n",
			res.LastIndexedAt.Format("2006-01-02 15:04:05"), res.Marker)
	} else {
		fmt.Fprintln(out, yellow("never indexed"))
	}
	fmt.Fprintf(out, "files %d  symbols %d  chunks %d  edges %d\n",
		res.Files, res.Symbols, res.Chunks, res.Edges)
	fmt.Fprintf(out, "embedded: %d/%d chunks, %d/%d docs\n",
		res.ChunksEmbedded, res.ChunksTotal, res.DocsEmbedded, res.DocsTotal)
	if res.LastError != "" {
		fmt.Fprintf(out, "%s %s\n", red("last error:"), res.LastError)
	}
	if len(res.Queue) > 0 {
		fmt.Fprintf(out, "queue:")
		for status, n := range res.Queue {
			fmt.Fprintf(out, " %s=%d", status, n)
		}
		fmt.Fprintln(out)
	}
	return nil
}
