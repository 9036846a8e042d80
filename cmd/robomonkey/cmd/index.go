package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robomonkey/robomonkey/internal/store"
)

func newIndexCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "index <repo>",
		Short: "Queue a full or single-file reindex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], file)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Reindex only this repository-relative path")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, repo, file string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := store.Open(ctx, cfg.DatabaseURL, cfg.SchemaPrefix, cfg.Embeddings.Dimension)
	if err != nil {
		return err
	}
	defer pool.Close()

	ref, err := pool.ResolveRepo(ctx, repo)
	if err != nil {
		return err
	}

	req := store.EnqueueRequest{
		RepoName:   ref.Name,
		SchemaName: ref.SchemaName,
		Type:       store.JobFullIndex,
		DedupKey:   "full-index",
	}
	if file != "" {
		payload, err := json.Marshal(map[string]string{"path": file})
		if err != nil {
			return err
		}
		req.Type = store.JobReindexFile
		req.Payload = payload
		req.DedupKey = file
	}

	jobID, err := pool.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	if jobID == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s already queued\n", yellow("•"), req.Type)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s queued %s (job %d)\n", green("✓"), req.Type, jobID)
	return nil
}
