package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robomonkey/robomonkey/internal/store"
)

func newRegisterCmd() *cobra.Command {
	var (
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "register <path>",
		Short: "Register a repository and queue its first index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd.Context(), cmd, args[0], name, force)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Repository name (default: directory base name)")
	cmd.Flags().BoolVar(&force, "force", false, "Drop and recreate an existing schema")

	return cmd
}

func runRegister(ctx context.Context, cmd *cobra.Command, path, name string, force bool) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if name == "" {
		name = filepath.Base(root)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := store.Open(ctx, cfg.DatabaseURL, cfg.SchemaPrefix, cfg.Embeddings.Dimension)
	if err != nil {
		return err
	}
	defer pool.Close()

	ref, err := pool.Register(ctx, name, root, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s registered %s (schema %s)\n",
		green("✓"), cyan(ref.Name), faint(ref.SchemaName))

	jobID, err := pool.Enqueue(ctx, store.EnqueueRequest{
		RepoName:   ref.Name,
		SchemaName: ref.SchemaName,
		Type:       store.JobFullIndex,
		DedupKey:   "full-index",
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s queued full index (job %d)\n", green("✓"), jobID)

	if cfg.TagRules != "" {
		if _, err := pool.Enqueue(ctx, store.EnqueueRequest{
			RepoName:   ref.Name,
			SchemaName: ref.SchemaName,
			Type:       store.JobTagRulesSync,
			DedupKey:   "tag-rules",
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s queued tag rules sync\n", green("✓"))
	}
	return nil
}
