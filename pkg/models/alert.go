package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertEvent flags one email as urgent. At most one unresolved alert may
// exist per email at a time; creation is deduplicated, delivery is left
// to the external alerting sink.
type AlertEvent struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	EmailID   uuid.UUID `db:"email_id"   json:"email_id"`
	Reason    string    `db:"reason"     json:"reason"`
	Resolved  bool      `db:"resolved"   json:"resolved"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Checkpoint marks how far a change feed has been consumed. Advancement
// is strictly increasing and happens only after the batch behind it has
// been durably processed.
type Checkpoint struct {
	FeedName  string    `db:"feed_name"  json:"feed_name"`
	LastSeq   int64     `db:"last_seq"   json:"last_seq"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// The two change feeds the pipeline consumes.
const (
	FeedRawEmails       = "raw_emails"
	FeedCanonicalEmails = "canonical_emails"
	// FeedUrgentScan shares the canonical email seq space but keeps its
	// own checkpoint so the urgent stage can be suspended independently
	// of enrichment.
	FeedUrgentScan = "urgent_scan"
)
