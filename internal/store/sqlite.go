package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	// Register modernc SQLite driver with database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var gooseMu sync.Mutex

// SQLiteStore keeps contracts, reviews and drafts in a local SQLite file.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; busy_timeout covers readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := migrate(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer func() {
		goose.SetBaseFS(nil)
		gooseMu.Unlock()
	}()
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlite: set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("sqlite: apply migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateContract(ctx context.Context, c *Contract) error {
	defaults(c, s.now())
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO contracts (id, user_id, title, original_filename, file_path, content_text,
			content_hash, status, source, created_at, updated_at)
		VALUES (:id, :user_id, :title, :original_filename, :file_path, :content_text,
			:content_hash, :status, :source, :created_at, :updated_at)`, c)
	if err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetContract(ctx context.Context, id string) (*Contract, error) {
	var c Contract
	err := s.db.GetContext(ctx, &c, `SELECT * FROM contracts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListContracts(ctx context.Context, userID string) ([]Contract, error) {
	contracts := []Contract{}
	query := `SELECT * FROM contracts ORDER BY created_at DESC, id`
	args := []any{}
	if userID != "" {
		query = `SELECT * FROM contracts WHERE user_id = ? ORDER BY created_at DESC, id`
		args = append(args, userID)
	}
	if err := s.db.SelectContext(ctx, &contracts, query, args...); err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	return contracts, nil
}

func (s *SQLiteStore) UpdateContractStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET status = ?, updated_at = ? WHERE id = ?`, status, s.now(), id)
	if err != nil {
		return fmt.Errorf("update contract %s: %w", id, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteContract(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete contract %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_records WHERE contract_id = ?`, id); err != nil {
		return fmt.Errorf("delete reviews of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contract %s: %w", id, err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindByHash(ctx context.Context, userID, hash string) ([]string, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM contracts WHERE user_id = ? AND content_hash = ? ORDER BY created_at, id`, userID, hash)
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) CreateReview(ctx context.Context, r *Review) error {
	reviewDefaults(r, s.now())
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO review_records (id, contract_id, user_id, status, issues, summary,
			high_risk_count, medium_risk_count, low_risk_count, reviewed_file_path,
			report_path, error_message, created_at, completed_at)
		VALUES (:id, :contract_id, :user_id, :status, :issues, :summary,
			:high_risk_count, :medium_risk_count, :low_risk_count, :reviewed_file_path,
			:report_path, :error_message, :created_at, :completed_at)`, r)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateReview(ctx context.Context, r *Review) error {
	if r.Issues == nil {
		r.Issues = Issues{}
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE review_records SET
			status = :status, issues = :issues, summary = :summary,
			high_risk_count = :high_risk_count, medium_risk_count = :medium_risk_count,
			low_risk_count = :low_risk_count, reviewed_file_path = :reviewed_file_path,
			report_path = :report_path, error_message = :error_message,
			completed_at = :completed_at
		WHERE id = :id`, r)
	if err != nil {
		return fmt.Errorf("update review %s: %w", r.ID, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*Review, error) {
	var r Review
	err := s.db.GetContext(ctx, &r, `SELECT * FROM review_records WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review %s: %w", id, err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, contractID string) ([]Review, error) {
	reviews := []Review{}
	err := s.db.SelectContext(ctx, &reviews,
		`SELECT * FROM review_records WHERE contract_id = ? ORDER BY created_at DESC, id`, contractID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

func (s *SQLiteStore) CreateDraft(ctx context.Context, d *Draft) error {
	draftDefaults(d, s.now())
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO contract_drafts (id, user_id, title, user_requirement, contract_type,
			generated_content, final_content, file_path, status, model, error_message,
			contract_id, version, created_at, updated_at, finalized_at)
		VALUES (:id, :user_id, :title, :user_requirement, :contract_type,
			:generated_content, :final_content, :file_path, :status, :model, :error_message,
			:contract_id, :version, :created_at, :updated_at, :finalized_at)`, d)
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDraft(ctx context.Context, id string) (*Draft, error) {
	var d Draft
	err := s.db.GetContext(ctx, &d, `SELECT * FROM contract_drafts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", id, err)
	}
	return &d, nil
}

func (s *SQLiteStore) ListDrafts(ctx context.Context, userID string) ([]Draft, error) {
	drafts := []Draft{}
	query := `SELECT * FROM contract_drafts ORDER BY created_at DESC, id`
	args := []any{}
	if userID != "" {
		query = `SELECT * FROM contract_drafts WHERE user_id = ? ORDER BY created_at DESC, id`
		args = append(args, userID)
	}
	if err := s.db.SelectContext(ctx, &drafts, query, args...); err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return drafts, nil
}

func (s *SQLiteStore) UpdateDraft(ctx context.Context, d *Draft) error {
	d.UpdatedAt = s.now()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE contract_drafts SET
			title = :title, user_requirement = :user_requirement, contract_type = :contract_type,
			generated_content = :generated_content, final_content = :final_content,
			file_path = :file_path, status = :status, model = :model,
			error_message = :error_message, contract_id = :contract_id, version = :version,
			updated_at = :updated_at, finalized_at = :finalized_at
		WHERE id = :id`, d)
	if err != nil {
		return fmt.Errorf("update draft %s: %w", d.ID, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteDraft(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contract_drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
