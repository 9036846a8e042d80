package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robomonkey/robomonkey/internal/api"
)

func newSearchCmd() *cobra.Command {
	var (
		repo       string
		topK       int
		docsOnly   bool
		jsonOutput bool
		pathPrefix string
		language   string
		tagsAny    []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search over a repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, searchOpts{
				repo: repo, query: query, topK: topK, docsOnly: docsOnly,
				jsonOutput: jsonOutput, pathPrefix: pathPrefix,
				language: language, tagsAny: tagsAny,
			})
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository name (required)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of results (default from config)")
	cmd.Flags().BoolVar(&docsOnly, "docs", false, "Search documentation only")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	cmd.Flags().StringVar(&pathPrefix, "path", "", "Restrict to paths under this prefix")
	cmd.Flags().StringVar(&language, "language", "", "Restrict to one language")
	cmd.Flags().StringSliceVar(&tagsAny, "tag", nil, "Boost results carrying this tag (repeatable)")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

type searchOpts struct {
	repo, query          string
	topK                 int
	docsOnly, jsonOutput bool
	pathPrefix, language string
	tagsAny              []string
}

func runSearch(ctx context.Context, cmd *cobra.Command, opts searchOpts) error {
	client, _, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	params := api.SearchParams{Repo: opts.repo, Query: opts.query, TopK: opts.topK}
	params.Filters.PathPrefix = opts.pathPrefix
	params.Filters.Language = opts.language
	params.Filters.TagsAny = opts.tagsAny

	method := "hybrid_search"
	if opts.docsOnly {
		method = "doc_search"
	}

	var res api.SearchResult
	if err := client.Call(ctx, method, params, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		return printJSON(out, res)
	}

	if res.Degraded {
		fmt.Fprintf(out, "%s vector search unavailable, full-text only\n", yellow("!"))
	}
	if len(res.Results) == 0 {
		fmt.Fprintln(out, faint("no results"))
		return nil
	}
	for i, r := range res.Results {
		loc := r.Path
		if r.StartLine > 0 {
			loc = fmt.Sprintf("%s:%d-%d", r.Path, r.StartLine, r.EndLine)
		}
		fmt.Fprintf(out, "%s %s  %s  %s\n",
			cyan(fmt.Sprintf("%2d.", i+1)), loc,
			green(fmt.Sprintf("%.3f", r.Score)), faint(r.Explain.Why))
		fmt.Fprintln(out, indent(clip(r.Snippet, 400), "    "))
	}
	return nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
