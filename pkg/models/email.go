// Package models contains shared data models used across the InboxTriage codebase.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Raw email file processing statuses. Transitions are monotonic
// (PENDING -> PROCESSING -> COMPLETED/FAILED) except the explicit
// retry transition FAILED -> PENDING.
const (
	RawStatusPending    = "PENDING"
	RawStatusProcessing = "PROCESSING"
	RawStatusCompleted  = "COMPLETED"
	RawStatusFailed     = "FAILED"
)

// RawEmailFile is an email payload as delivered by an ingestion source,
// before any normalization. RawContent is the opaque source payload
// (usually JSON, but plain text is accepted too).
type RawEmailFile struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Seq          int64     `db:"seq"           json:"-"`
	SourceName   string    `db:"source_name"   json:"source_name"`
	FileName     string    `db:"file_name"     json:"file_name"`
	RawContent   []byte    `db:"raw_content"   json:"raw_content"`
	Status       string    `db:"status"        json:"status"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	ReceivedAt   time.Time `db:"received_at"   json:"received_at"`
}

// SourceFormat identifies the detected wire format of a raw email payload.
type SourceFormat string

const (
	FormatGmailAPI   SourceFormat = "gmail_api"
	FormatOutlook    SourceFormat = "outlook"
	FormatSimpleJSON SourceFormat = "simple"
	FormatMarketing  SourceFormat = "marketing"
	FormatRawText    SourceFormat = "raw_text"
	FormatUnknown    SourceFormat = "unknown"
)

// AttachmentMeta describes an attachment without carrying its content.
type AttachmentMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// CanonicalEmail is the normalized, format-independent representation of
// one email message. Immutable after parsing except for the enrichment
// outputs (Classification, ExtractedEntities).
type CanonicalEmail struct {
	ID               uuid.UUID        `db:"id"                json:"id"`
	Seq              int64            `db:"seq"               json:"-"`
	RawFileID        uuid.UUID        `db:"raw_file_id"       json:"raw_file_id"`
	SourceFormat     SourceFormat     `db:"source_format"     json:"source_format"`
	Sender           string           `db:"sender"            json:"sender"`
	Recipients       []string         `db:"recipients"        json:"recipients"`
	Subject          string           `db:"subject"           json:"subject"`
	Body             string           `db:"body"              json:"body"`
	SentAt           time.Time        `db:"sent_at"           json:"sent_at"`
	AttachmentsMeta  []AttachmentMeta `db:"attachments_meta"  json:"attachments_meta"`
	Classification   *string          `db:"classification"    json:"classification,omitempty"`
	ExtractedEntities *EntityBag      `db:"extracted_entities" json:"extracted_entities,omitempty"`
	ValidationErrors []string         `db:"validation_errors" json:"validation_errors"`
	CreatedAt        time.Time        `db:"created_at"        json:"created_at"`
}

// EntityBag holds structured entities extracted from an email body.
// A zero EntityBag means "nothing extracted".
type EntityBag struct {
	People         []string `json:"people,omitempty"`
	Companies      []string `json:"companies,omitempty"`
	Dates          []string `json:"dates,omitempty"`
	Locations      []string `json:"locations,omitempty"`
	Amounts        []string `json:"amounts,omitempty"`
	PhoneNumbers   []string `json:"phone_numbers,omitempty"`
	EmailAddresses []string `json:"email_addresses,omitempty"`
}

// IsEmpty reports whether no entities were extracted.
func (b *EntityBag) IsEmpty() bool {
	if b == nil {
		return true
	}
	return len(b.People) == 0 && len(b.Companies) == 0 && len(b.Dates) == 0 &&
		len(b.Locations) == 0 && len(b.Amounts) == 0 &&
		len(b.PhoneNumbers) == 0 && len(b.EmailAddresses) == 0
}

// MarshalText implements compact storage of an EntityBag as JSON.
func (b EntityBag) MarshalText() ([]byte, error) { return json.Marshal(b) }

// UnmarshalText parses a stored EntityBag.
func (b *EntityBag) UnmarshalText(data []byte) error { return json.Unmarshal(data, b) }

// Email classifications form a closed set. Model output that does not
// normalize into this set is coerced to ClassOther.
const (
	ClassUrgent         = "URGENT"
	ClassInformational  = "INFORMATIONAL"
	ClassActionRequired = "ACTION_REQUIRED"
	ClassMeetingRequest = "MEETING_REQUEST"
	ClassMarketing      = "MARKETING"
	ClassSupport        = "SUPPORT"
	ClassPersonal       = "PERSONAL"
	ClassOther          = "OTHER"
)

// Classifications lists every valid classification label.
var Classifications = []string{
	ClassUrgent,
	ClassInformational,
	ClassActionRequired,
	ClassMeetingRequest,
	ClassMarketing,
	ClassSupport,
	ClassPersonal,
	ClassOther,
}

// ValidClassification reports whether label is one of the closed set.
func ValidClassification(label string) bool {
	for _, c := range Classifications {
		if c == label {
			return true
		}
	}
	return false
}
