package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dgallion1/docreview/internal/annotate"
	"github.com/dgallion1/docreview/internal/artifacts"
	"github.com/dgallion1/docreview/internal/metrics"
	"github.com/dgallion1/docreview/internal/report"
	"github.com/dgallion1/docreview/internal/review"
	"github.com/dgallion1/docreview/internal/store"
)

// ReportName is the file name of the plain-text report.
const ReportName = "review_report.txt"

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// ReviewedName returns the annotated output name for an uploaded file.
func ReviewedName(uploadPath string) string {
	return "reviewed_" + filepath.Base(uploadPath)
}

// Deps are the collaborators a Worker needs. Mirror and Metrics may be nil.
type Deps struct {
	Service *review.Service
	Store   store.Store
	Files   *artifacts.Local
	Mirror  artifacts.Mirror
	Metrics *metrics.Metrics
	Author  string
	// SummaryParagraph prepends the review summary to the annotated copy.
	SummaryParagraph bool
}

// Worker processes a single review job.
type Worker struct {
	deps Deps
	log  *slog.Logger
}

func NewWorker(deps Deps, log *slog.Logger) *Worker {
	if deps.Author == "" {
		deps.Author = annotate.DefaultAuthor
	}
	return &Worker{deps: deps, log: log}
}

// Process runs review, location, annotation and reporting for a job and
// records the outcome on the review row.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "contract_id", job.ContractID, "user_id", job.UserID)
	start := time.Now()

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	doc, err := w.deps.Service.ParseFile(job.FilePath)
	if err != nil {
		w.fail(ctx, log, job, start, "parsing", fmt.Errorf("parse: %w", err))
		return
	}

	// Phase 2: Review
	job.SetStatus(StatusReviewing, "reviewing")
	if w.deps.Service.Extractor() == nil {
		w.fail(ctx, log, job, start, "reviewing", fmt.Errorf("no LLM client configured"))
		return
	}
	out := w.deps.Service.Review(ctx, doc, job.SetChunkProgress)
	if !out.Success {
		w.fail(ctx, log, job, start, "reviewing", fmt.Errorf("%s", out.Error))
		return
	}
	for _, e := range out.ChunkErrors {
		job.AddError(e)
	}
	log.Info("review complete", "issues", out.Total, "chunks", out.Chunks, "chunk_errors", len(out.ChunkErrors))

	// Phase 3: Locate
	job.SetStatus(StatusLocating, "locating")
	located, err := w.deps.Service.LocateIssues(job.FilePath, out.Issues)
	if err != nil {
		w.fail(ctx, log, job, start, "locating", fmt.Errorf("locate: %w", err))
		return
	}
	found := 0
	for _, li := range located {
		if li.Located {
			found++
		}
	}
	job.SetIssues(out.Total, found)

	// Phase 4: Annotate
	job.SetStatus(StatusAnnotating, "annotating")
	sess, err := annotate.OpenFile(job.FilePath, annotate.WithLogger(log))
	if err != nil {
		w.fail(ctx, log, job, start, "annotating", fmt.Errorf("open: %w", err))
		return
	}
	added := sess.AddIssuesAsComments(located, w.deps.Author)
	if w.deps.SummaryParagraph {
		sess.AddReviewSummary(out.Issues)
	}
	reviewedName := ReviewedName(job.FilePath)
	reviewedPath := w.deps.Files.StoragePath(job.ContractID, reviewedName)
	if _, err := sess.Save(reviewedPath); err != nil {
		w.fail(ctx, log, job, start, "annotating", fmt.Errorf("save annotated copy: %w", err))
		return
	}
	stats := sess.Stats()
	job.SetAnnotations(added, stats.Fallback)
	log.Info("annotation complete", "comments", added, "fallback", stats.Fallback, "unlocated", len(located)-found)

	// Phase 5: Report
	job.SetStatus(StatusReporting, "reporting")
	text := report.Build(out.Issues, out.Summary)
	reportPath, err := w.deps.Files.WriteFile(job.ContractID, ReportName, []byte(text))
	if err != nil {
		w.fail(ctx, log, job, start, "reporting", err)
		return
	}

	if w.deps.Mirror != nil {
		w.mirror(ctx, log, job, sess, reviewedName, text)
	}

	rec, err := w.deps.Store.GetReview(ctx, job.ID)
	if err != nil {
		w.fail(ctx, log, job, start, "reporting", fmt.Errorf("load review: %w", err))
		return
	}
	now := time.Now()
	rec.Status = store.ReviewCompleted
	rec.Issues = store.Issues(out.Issues)
	rec.Summary = out.Summary
	rec.HighRiskCount = out.High
	rec.MediumRiskCount = out.Medium
	rec.LowRiskCount = out.Low
	rec.ReviewedFilePath = reviewedPath
	rec.ReportPath = reportPath
	rec.ErrorMessage = ""
	rec.CompletedAt = &now
	if err := w.deps.Store.UpdateReview(ctx, rec); err != nil {
		w.fail(ctx, log, job, start, "reporting", fmt.Errorf("save review: %w", err))
		return
	}
	if err := w.deps.Store.UpdateContractStatus(ctx, job.ContractID, store.ContractCompleted); err != nil {
		log.Error("contract status update failed", "error", err)
		job.AddError(fmt.Sprintf("contract status: %s", err))
	}

	w.deps.Metrics.Annotations(stats.Structural, stats.Fallback)
	w.deps.Metrics.Issues(out.High, out.Medium, out.Low, len(located)-found)

	if len(out.ChunkErrors) > 0 {
		job.SetStatus(StatusPartial, "done")
		w.deps.Metrics.ReviewFinished(string(StatusPartial), time.Since(start))
	} else {
		job.SetStatus(StatusCompleted, "done")
		w.deps.Metrics.ReviewFinished(string(StatusCompleted), time.Since(start))
	}
	log.Info("review job finished", "duration", time.Since(start).String())
}

// mirror copies both outputs to remote storage. Failures are recorded but
// do not fail the job; local files stay authoritative.
func (w *Worker) mirror(ctx context.Context, log *slog.Logger, job *Job, sess *annotate.Session, reviewedName, reportText string) {
	data, err := sess.Bytes()
	if err == nil {
		err = w.deps.Mirror.Put(ctx, job.ContractID, reviewedName, data, docxContentType)
	}
	if err != nil {
		log.Warn("mirror annotated copy failed", "error", err)
		job.AddError(fmt.Sprintf("mirror %s: %s", reviewedName, err))
	}
	if err := w.deps.Mirror.Put(ctx, job.ContractID, ReportName, []byte(reportText), "text/plain; charset=utf-8"); err != nil {
		log.Warn("mirror report failed", "error", err)
		job.AddError(fmt.Sprintf("mirror %s: %s", ReportName, err))
	}
}

// fail marks the job and its review row failed.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, job *Job, start time.Time, phase string, cause error) {
	log.Error("review job failed", "phase", phase, "error", cause)
	job.AddError(cause.Error())
	job.SetStatus(StatusFailed, phase)
	w.deps.Metrics.ReviewFinished(string(StatusFailed), time.Since(start))

	rec, err := w.deps.Store.GetReview(ctx, job.ID)
	if err != nil {
		log.Error("load review for failure", "error", err)
		return
	}
	rec.Status = store.ReviewFailed
	rec.ErrorMessage = cause.Error()
	if err := w.deps.Store.UpdateReview(ctx, rec); err != nil {
		log.Error("mark review failed", "error", err)
	}
}
