package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robomonkey/robomonkey/configs"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write starter config and tag rules to the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	files := []struct {
		name string
		data []byte
	}{
		{"robomonkey.yaml", configs.ConfigTemplate},
		{"tag-rules.yaml", configs.TagRulesTemplate},
	}

	for _, f := range files {
		if _, err := os.Stat(f.name); err == nil && !force {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s exists, skipping (use --force)\n",
				yellow("•"), f.name)
			continue
		}
		if err := os.WriteFile(f.name, f.data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", green("✓"), f.name)
	}
	return nil
}
