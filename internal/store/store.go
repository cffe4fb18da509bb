// Package store persists contracts, their review records and drafts.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgallion1/docreview/internal/extract"
)

// ErrNotFound is returned when a contract, review or draft does not exist.
var ErrNotFound = errors.New("not found")

// Contract statuses.
const (
	ContractPending   = "pending"
	ContractReviewing = "reviewing"
	ContractCompleted = "completed"
)

// Review statuses.
const (
	ReviewPending    = "pending"
	ReviewProcessing = "processing"
	ReviewCompleted  = "completed"
	ReviewFailed     = "failed"
)

// SourceUpload marks contracts created from an uploaded file.
const SourceUpload = "upload"

// DefaultUserID owns records when no user is given.
const DefaultUserID = "default_user"

// Contract is an uploaded document awaiting or having had review.
type Contract struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	Title            string    `db:"title" json:"title"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	FilePath         string    `db:"file_path" json:"file_path"`
	ContentText      string    `db:"content_text" json:"content_text,omitempty"`
	ContentHash      string    `db:"content_hash" json:"content_hash"`
	Status           string    `db:"status" json:"status"`
	Source           string    `db:"source" json:"source"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Review is one review run over a contract.
type Review struct {
	ID               string     `db:"id" json:"id"`
	ContractID       string     `db:"contract_id" json:"contract_id"`
	UserID           string     `db:"user_id" json:"user_id"`
	Status           string     `db:"status" json:"status"`
	Issues           Issues     `db:"issues" json:"issues"`
	Summary          string     `db:"summary" json:"summary"`
	HighRiskCount    int        `db:"high_risk_count" json:"high_risk_count"`
	MediumRiskCount  int        `db:"medium_risk_count" json:"medium_risk_count"`
	LowRiskCount     int        `db:"low_risk_count" json:"low_risk_count"`
	ReviewedFilePath string     `db:"reviewed_file_path" json:"reviewed_file_path,omitempty"`
	ReportPath       string     `db:"report_path" json:"report_path,omitempty"`
	ErrorMessage     string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Issues is stored as a JSON array.
type Issues []extract.Issue

// Value implements driver.Valuer.
func (is Issues) Value() (driver.Value, error) {
	if is == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]extract.Issue(is))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (is *Issues) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*is = Issues{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan issues: unsupported type %T", src)
	}
	var out []extract.Issue
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan issues: %w", err)
	}
	if out == nil {
		out = []extract.Issue{}
	}
	*is = out
	return nil
}

// Store is the persistence boundary for contracts, reviews and drafts.
type Store interface {
	CreateContract(ctx context.Context, c *Contract) error
	GetContract(ctx context.Context, id string) (*Contract, error)
	ListContracts(ctx context.Context, userID string) ([]Contract, error)
	UpdateContractStatus(ctx context.Context, id, status string) error
	// DeleteContract removes the contract and its reviews.
	DeleteContract(ctx context.Context, id string) error
	// FindByHash returns the ids of contracts with the given content hash,
	// oldest first.
	FindByHash(ctx context.Context, userID, hash string) ([]string, error)

	CreateReview(ctx context.Context, r *Review) error
	UpdateReview(ctx context.Context, r *Review) error
	GetReview(ctx context.Context, id string) (*Review, error)
	ListReviews(ctx context.Context, contractID string) ([]Review, error)

	CreateDraft(ctx context.Context, d *Draft) error
	GetDraft(ctx context.Context, id string) (*Draft, error)
	// ListDrafts returns the user's drafts, newest first. An empty userID
	// lists every draft.
	ListDrafts(ctx context.Context, userID string) ([]Draft, error)
	// UpdateDraft replaces the stored draft and bumps UpdatedAt.
	UpdateDraft(ctx context.Context, d *Draft) error
	DeleteDraft(ctx context.Context, id string) error

	Close() error
}

func defaults(c *Contract, now time.Time) {
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	if c.Status == "" {
		c.Status = ContractPending
	}
	if c.Source == "" {
		c.Source = SourceUpload
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

func reviewDefaults(r *Review, now time.Time) {
	if r.UserID == "" {
		r.UserID = DefaultUserID
	}
	if r.Status == "" {
		r.Status = ReviewPending
	}
	if r.Issues == nil {
		r.Issues = Issues{}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}
