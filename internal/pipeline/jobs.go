package pipeline

import (
	"sync"
	"time"
)

// JobStatus represents the state of a review job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusReviewing  JobStatus = "reviewing"
	StatusLocating   JobStatus = "locating"
	StatusAnnotating JobStatus = "annotating"
	StatusReporting  JobStatus = "reporting"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
)

// Terminal reports whether no further transitions follow.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// Job tracks the live state of one review. ID equals the review id.
type Job struct {
	mu sync.Mutex

	ID         string `json:"job_id"`
	ContractID string `json:"contract_id"`
	UserID     string `json:"user_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	FilePath string    `json:"-"`
	Title    string    `json:"title"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	errors []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks     int      `json:"total_chunks"`
	ChunksProcessed int      `json:"chunks_processed"`
	IssuesFound     int      `json:"issues_found"`
	IssuesLocated   int      `json:"issues_located"`
	CommentsAdded   int      `json:"comments_added"`
	FallbackMarkers int      `json:"fallback_markers"`
	Errors          []string `json:"errors"`
}

// NewJob returns a queued job for the review.
func NewJob(reviewID, contractID, userID, filePath, title string) *Job {
	now := time.Now()
	return &Job{
		ID:         reviewID,
		ContractID: contractID,
		UserID:     userID,
		Status:     StatusQueued,
		Phase:      "queued",
		FilePath:   filePath,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs idle for longer than the TTL. Running
// jobs are kept regardless of age.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetChunkProgress records how many of total chunks have been reviewed.
func (j *Job) SetChunkProgress(done, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksProcessed = done
	j.Progress.TotalChunks = total
	j.UpdatedAt = time.Now()
}

// SetIssues records found and located issue counts.
func (j *Job) SetIssues(found, located int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.IssuesFound = found
	j.Progress.IssuesLocated = located
	j.UpdatedAt = time.Now()
}

// SetAnnotations records comments written and fallback markers used.
func (j *Job) SetAnnotations(comments, fallback int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.CommentsAdded = comments
	j.Progress.FallbackMarkers = fallback
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string    `json:"job_id"`
	ContractID string    `json:"contract_id"`
	UserID     string    `json:"user_id"`
	Status     JobStatus `json:"status"`
	Phase      string    `json:"phase"`
	Title      string    `json:"title"`
	Progress   Progress  `json:"progress"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.Progress
	p.Errors = append([]string{}, j.errors...)
	return JobSnapshot{
		ID:         j.ID,
		ContractID: j.ContractID,
		UserID:     j.UserID,
		Status:     j.Status,
		Phase:      j.Phase,
		Title:      j.Title,
		Progress:   p,
		UpdatedAt:  j.UpdatedAt,
	}
}
