package store

import "time"

// Draft statuses.
const (
	DraftNew        = "draft"
	DraftGenerating = "generating"
	DraftGenerated  = "generated"
	DraftEditing    = "editing"
	DraftFinalized  = "finalized"
	DraftConverted  = "converted_to_review"
	DraftFailed     = "failed"
)

// SourceDraft marks contracts created from a draft.
const SourceDraft = "from_draft"

// Draft is a contract being written, either generated from a requirement
// or edited by hand.
type Draft struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	Title            string     `db:"title" json:"title"`
	Requirement      string     `db:"user_requirement" json:"user_requirement"`
	ContractType     string     `db:"contract_type" json:"contract_type"`
	GeneratedContent string     `db:"generated_content" json:"generated_content"`
	FinalContent     string     `db:"final_content" json:"final_content"`
	FilePath         string     `db:"file_path" json:"file_path,omitempty"`
	Status           string     `db:"status" json:"status"`
	Model            string     `db:"model" json:"model,omitempty"`
	ErrorMessage     string     `db:"error_message" json:"error_message,omitempty"`
	ContractID       string     `db:"contract_id" json:"contract_id,omitempty"`
	Version          int        `db:"version" json:"version"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	FinalizedAt      *time.Time `db:"finalized_at" json:"finalized_at"`
}

// Content is the edited text when there is one, else the generated text.
func (d *Draft) Content() string {
	if d.FinalContent != "" {
		return d.FinalContent
	}
	return d.GeneratedContent
}

func draftDefaults(d *Draft, now time.Time) {
	if d.UserID == "" {
		d.UserID = DefaultUserID
	}
	if d.Status == "" {
		d.Status = DraftNew
	}
	if d.Version == 0 {
		d.Version = 1
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
}
