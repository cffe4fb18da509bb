package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/dgallion1/docreview/internal/annotate"
	"github.com/dgallion1/docreview/internal/bootstrap"
	"github.com/dgallion1/docreview/internal/drafting"
	"github.com/dgallion1/docreview/internal/extract"
	"github.com/dgallion1/docreview/internal/fsutil"
	"github.com/dgallion1/docreview/internal/locate"
	"github.com/dgallion1/docreview/internal/pipeline"
	"github.com/dgallion1/docreview/internal/report"
	"github.com/dgallion1/docreview/internal/review"
)

func newParseCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse <file.docx>",
		Short: "Show paragraphs, detected sections and the token estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := bootstrap.NewService(a.cfg, nil, nil, nil, a.log)
			if err != nil {
				return err
			}
			doc, err := svc.ParseFile(args[0])
			if err != nil {
				return err
			}
			tokens := svc.Estimator().Estimate(doc.FullText)
			split := svc.Estimator().ShouldSplit(doc, svc.Budget())
			out := cmd.OutOrStdout()

			if asJSON {
				return printJSON(out, map[string]any{
					"paragraphs":       doc.Paragraphs,
					"tables":           doc.Tables,
					"structure":        doc.Structure,
					"estimated_tokens": tokens,
					"budget":           svc.Budget(),
					"should_split":     split,
				})
			}

			fmt.Fprintf(out, "paragraphs: %d\n", len(doc.Paragraphs))
			fmt.Fprintf(out, "tables: %d\n", len(doc.Tables))
			fmt.Fprintf(out, "estimated tokens: %d (budget %d, split %t)\n", tokens, svc.Budget(), split)
			fmt.Fprintf(out, "sections: %d\n", len(doc.Structure.Sections))
			for _, s := range doc.Structure.Sections {
				fmt.Fprintf(out, "  [%d] %s (paragraphs %d-%d)\n", s.Number, s.Title, s.StartIndex, s.EndIndex)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the parsed document as JSON")
	return cmd
}

func newChunkCommand(a *app) *cobra.Command {
	var budget int
	cmd := &cobra.Command{
		Use:   "chunk <file.docx>",
		Short: "List the chunks a review would send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := bootstrap.NewService(a.cfg, nil, nil, nil, a.log)
			if err != nil {
				return err
			}
			doc, err := svc.ParseFile(args[0])
			if err != nil {
				return err
			}
			if budget <= 0 {
				budget = svc.Budget()
			}
			est := svc.Estimator()
			out := cmd.OutOrStdout()
			if !est.ShouldSplit(doc, budget) {
				fmt.Fprintf(out, "single request: ~%d tokens (budget %d)\n", est.Estimate(doc.FullText), budget)
				return nil
			}
			chunks := est.Split(doc, budget)
			fmt.Fprintf(out, "%d chunks (budget %d)\n", len(chunks), budget)
			for _, c := range chunks {
				first, last := -1, -1
				if len(c.Paragraphs) > 0 {
					first = c.Paragraphs[0].Index
					last = c.Paragraphs[len(c.Paragraphs)-1].Index
				}
				fmt.Fprintf(out, "  chunk %d: paragraphs %d-%d, ~%d tokens\n", c.SectionNumber, first, last, est.Estimate(c.Text))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&budget, "budget", 0, "Token budget per chunk (default MAX_TOKENS_PER_SECTION)")
	return cmd
}

func newLocateCommand(a *app) *cobra.Command {
	var issuesPath string
	cmd := &cobra.Command{
		Use:   "locate <file.docx>",
		Short: "Resolve each issue's quoted text to a paragraph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issues, _, err := loadIssues(a, issuesPath)
			if err != nil {
				return err
			}
			svc, err := bootstrap.NewService(a.cfg, nil, nil, nil, a.log)
			if err != nil {
				return err
			}
			located, err := svc.LocateIssues(args[0], issues)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), located)
		},
	}
	cmd.Flags().StringVar(&issuesPath, "issues", "", "JSON file with an issues array or a review result object")
	_ = cmd.MarkFlagRequired("issues")
	return cmd
}

func newAnnotateCommand(a *app) *cobra.Command {
	var (
		issuesPath string
		outPath    string
		reportPath string
		author     string
		summary    bool
	)
	cmd := &cobra.Command{
		Use:   "annotate <file.docx>",
		Short: "Write issues into a copy of the document as comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issues, summaryText, err := loadIssues(a, issuesPath)
			if err != nil {
				return err
			}
			svc, err := bootstrap.NewService(a.cfg, nil, nil, nil, a.log)
			if err != nil {
				return err
			}
			located, err := svc.LocateIssues(args[0], issues)
			if err != nil {
				return err
			}
			if author == "" {
				author = a.cfg.CommentAuthor
			}
			added, stats, err := annotateCopy(a, args[0], outPath, located, issues, author, summary)
			if err != nil {
				return err
			}

			if reportPath != "" {
				if summaryText == "" {
					h, m, l := extract.CountSeverities(issues)
					summaryText = review.MergedSummary(len(issues), h, m, l)
				}
				if _, err := fsutil.WriteFile(reportPath, []byte(report.Build(issues, summaryText)), 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d comments (%d structural, %d fallback), %d unlocated -> %s\n",
				added, stats.Structural, stats.Fallback, unlocated(located), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&issuesPath, "issues", "", "JSON file with an issues array or a review result object")
	cmd.Flags().StringVar(&outPath, "out", "", "Annotated output path")
	cmd.Flags().StringVar(&reportPath, "report", "", "Also write a plain-text report here")
	cmd.Flags().StringVar(&author, "author", "", "Comment author (default COMMENT_AUTHOR)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Prepend a summary paragraph to the document")
	_ = cmd.MarkFlagRequired("issues")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newReviewCommand(a *app) *cobra.Command {
	var (
		outDir  string
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "review <file.docx>",
		Short: "Run a full review with the configured LLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			llm, err := bootstrap.NewLLMClient(a.cfg)
			if err != nil {
				return err
			}
			defer llm.Close()

			stats := extract.NewLLMStats(time.Hour)
			svc, err := bootstrap.NewService(a.cfg, llm, stats, nil, a.log)
			if err != nil {
				return err
			}

			start := time.Now()
			out, err := svc.ReviewDocument(cmd.Context(), path, func(done, total int) {
				a.log.Info("reviewed chunk", "done", done, "total", total)
			})
			if err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("review failed: %s", out.Error)
			}
			for _, e := range out.ChunkErrors {
				a.log.Warn("chunk failed", "error", e)
			}

			located, err := svc.LocateIssues(path, out.Issues)
			if err != nil {
				return err
			}
			reviewedPath := filepath.Join(outDir, pipeline.ReviewedName(path))
			added, _, err := annotateCopy(a, path, reviewedPath, located, out.Issues, a.cfg.CommentAuthor, summary)
			if err != nil {
				return err
			}
			reportPath := filepath.Join(outDir, pipeline.ReportName)
			if _, err := fsutil.WriteFile(reportPath, []byte(report.Build(out.Issues, out.Summary)), 0o644); err != nil {
				return err
			}
			resultJSON, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			if _, err := fsutil.WriteFile(filepath.Join(outDir, "review.json"), resultJSON, 0o644); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, out.Summary)
			fmt.Fprintf(w, "issues: %d (high %d, medium %d, low %d), comments: %d, unlocated: %d\n",
				out.Total, out.High, out.Medium, out.Low, added, unlocated(located))
			fmt.Fprintf(w, "annotated: %s\nreport: %s\n", reviewedPath, reportPath)
			a.log.Info("review finished", "duration", time.Since(start).String(), "llm_calls", stats.Snapshot().Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory for the annotated copy, report and review.json")
	cmd.Flags().BoolVar(&summary, "summary", false, "Prepend a summary paragraph to the annotated copy")
	_ = cmd.MarkFlagRequired("out-dir")
	return cmd
}

// annotateCopy writes located issues into a copy of src at dst.
func newRenderCommand(a *app) *cobra.Command {
	var title, outPath string
	cmd := &cobra.Command{
		Use:   "render <contract.txt>",
		Short: "Render plain contract text as a formatted .docx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			if outPath == "" {
				outPath = filepath.Join(filepath.Dir(args[0]), drafting.SafeTitle(title)+".docx")
			}
			data, err := drafting.BuildDocument(title, string(text))
			if err != nil {
				return err
			}
			if _, err := fsutil.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			a.log.Info("rendered contract", "out", outPath, "bytes", len(data))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Document title (default: input file name)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output path (default: <title>.docx next to the input)")
	return cmd
}

func annotateCopy(a *app, src, dst string, located []locate.LocatedIssue, issues []extract.Issue, author string, summary bool) (int, annotate.Stats, error) {
	sess, err := annotate.OpenFile(src, annotate.WithLogger(a.log))
	if err != nil {
		return 0, annotate.Stats{}, err
	}
	added := sess.AddIssuesAsComments(located, author)
	if summary {
		sess.AddReviewSummary(issues)
	}
	if _, err := sess.Save(dst); err != nil {
		return 0, annotate.Stats{}, err
	}
	return added, sess.Stats(), nil
}

// loadIssues reads either a bare issues array or an object with "issues"
// and optional "summary". Issues failing validation are dropped.
func loadIssues(a *app, path string) ([]extract.Issue, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if !gjson.ValidBytes(data) {
		return nil, "", fmt.Errorf("%s: invalid JSON", path)
	}
	root := gjson.ParseBytes(data)
	list, summary := root, ""
	if root.IsObject() {
		list = root.Get("issues")
		summary = root.Get("summary").String()
	}
	if !list.IsArray() {
		return nil, "", fmt.Errorf("%s: no issues array", path)
	}

	var raw []extract.Issue
	if err := json.Unmarshal([]byte(list.Raw), &raw); err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	issues := make([]extract.Issue, 0, len(raw))
	for i := range raw {
		if err := extract.ValidateIssue(&raw[i]); err != nil {
			a.log.Warn("dropping invalid issue", "index", i, "error", err)
			continue
		}
		issues = append(issues, raw[i])
	}
	return issues, summary, nil
}

func unlocated(items []locate.LocatedIssue) int {
	n := 0
	for _, it := range items {
		if !it.Located {
			n++
		}
	}
	return n
}
