package models

import (
	"time"

	"github.com/google/uuid"
)

// Insight is a single AI-derived artifact attached to one email.
// Insights are append-only: re-running enrichment adds new rows rather
// than overwriting, so analysis history is preserved.
type Insight struct {
	ID        uuid.UUID    `db:"id"         json:"id"`
	EmailID   uuid.UUID    `db:"email_id"   json:"email_id"`
	Kind      AnalysisKind `db:"kind"       json:"kind"`
	Text      string       `db:"text"       json:"text"`
	ModelUsed string       `db:"model_used" json:"model_used"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}
