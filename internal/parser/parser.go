// Package parser normalizes raw email payloads from heterogeneous
// sources into CanonicalEmail records. Detection prefers a declared
// email_type tag, then falls back to structural sniffing. Unrecognized
// payloads are never discarded: they become Unknown-format emails with
// the payload stringified into the body.
package parser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/pkg/models"
)

// Parse converts one raw email file into a canonical email. It returns
// an error only for an empty payload; every other input produces a
// canonical email, possibly with validation errors attached.
func Parse(raw models.RawEmailFile) (*models.CanonicalEmail, error) {
	if len(raw.RawContent) == 0 {
		return nil, fmt.Errorf("raw email %s: empty payload", raw.ID)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw.RawContent, &fields); err != nil {
		// Not a JSON object: treat the whole payload as plain text.
		return finish(raw, parseRawText(raw)), nil
	}

	format := detectFormat(fields)

	var email *models.CanonicalEmail
	switch format {
	case models.FormatGmailAPI:
		email = parseGmail(raw, fields)
	case models.FormatOutlook:
		email = parseOutlook(raw, fields)
	case models.FormatSimpleJSON, models.FormatMarketing:
		email = parseSimple(raw, fields, format)
	default:
		email = parseUnknown(raw)
	}
	return finish(raw, email), nil
}

// detectFormat resolves the source format. A declared email_type tag
// wins over structural sniffing.
func detectFormat(fields map[string]json.RawMessage) models.SourceFormat {
	if tagRaw, ok := fields["email_type"]; ok {
		var tag string
		if json.Unmarshal(tagRaw, &tag) == nil {
			switch tag {
			case "gmail_api":
				return models.FormatGmailAPI
			case "outlook", "exchange":
				return models.FormatOutlook
			case "simple_format", "simple":
				return models.FormatSimpleJSON
			case "marketing":
				return models.FormatMarketing
			}
		}
	}

	if payloadRaw, ok := fields["payload"]; ok {
		var payload struct {
			Headers []gmailHeader `json:"headers"`
		}
		if json.Unmarshal(payloadRaw, &payload) == nil && len(payload.Headers) > 0 {
			return models.FormatGmailAPI
		}
	}
	if _, ok := fields["SenderEmailAddress"]; ok {
		return models.FormatOutlook
	}
	// Simple and marketing share a field shape. Without a tag the
	// non-lossy default is simple; marketing is only ever tagged.
	if _, ok := fields["sender"]; ok {
		if _, ok := fields["email_text"]; ok {
			return models.FormatSimpleJSON
		}
	}
	return models.FormatUnknown
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailPart struct {
	MimeType string      `json:"mimeType"`
	Body     gmailBody   `json:"body"`
	Parts    []gmailPart `json:"parts"`
}

type gmailBody struct {
	Data string `json:"data"`
}

type gmailPayload struct {
	Headers []gmailHeader `json:"headers"`
	Body    gmailBody     `json:"body"`
	Parts   []gmailPart   `json:"parts"`
}

func parseGmail(raw models.RawEmailFile, fields map[string]json.RawMessage) *models.CanonicalEmail {
	email := &models.CanonicalEmail{
		RawFileID:    raw.ID,
		SourceFormat: models.FormatGmailAPI,
	}

	var payload gmailPayload
	if payloadRaw, ok := fields["payload"]; ok {
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			email.ValidationErrors = append(email.ValidationErrors, "gmail payload malformed: "+err.Error())
		}
	}

	for _, h := range payload.Headers {
		// Header name match is case-sensitive.
		switch h.Name {
		case "From":
			email.Sender = h.Value
		case "To":
			email.Recipients = append(email.Recipients, h.Value)
		case "Subject":
			email.Subject = h.Value
		}
	}

	body, err := gmailBodyText(payload)
	if err != nil {
		email.ValidationErrors = append(email.ValidationErrors, "gmail body decode failed: "+err.Error())
	}
	email.Body = body

	if dateRaw, ok := fields["internalDate"]; ok {
		if millis, ok := asInt64(dateRaw); ok {
			email.SentAt = time.UnixMilli(millis).UTC()
		}
	}
	return email
}

// gmailBodyText returns the first text/plain part of the payload,
// recursing into nested multiparts, falling back to the top-level body
// for single-part messages.
func gmailBodyText(payload gmailPayload) (string, error) {
	if len(payload.Parts) > 0 {
		if text, err := partText(payload.Parts); text != "" || err != nil {
			return text, err
		}
	}
	if payload.Body.Data != "" {
		return decodeBase64URL(payload.Body.Data)
	}
	return "", nil
}

func partText(parts []gmailPart) (string, error) {
	for _, part := range parts {
		if part.MimeType == "text/plain" && part.Body.Data != "" {
			return decodeBase64URL(part.Body.Data)
		}
		// Some sources omit mimeType on the only part they send.
		if part.MimeType == "" && part.Body.Data != "" {
			return decodeBase64URL(part.Body.Data)
		}
		if len(part.Parts) > 0 {
			if text, err := partText(part.Parts); text != "" || err != nil {
				return text, err
			}
		}
	}
	return "", nil
}

// decodeBase64URL decodes URL-safe base64, tolerating missing padding.
func decodeBase64URL(data string) (string, error) {
	if n := len(data) % 4; n != 0 {
		data += "===="[:4-n]
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

type outlookMessage struct {
	SenderEmailAddress string   `json:"SenderEmailAddress"`
	ToRecipients       []string `json:"ToRecipients"`
	Subject            string   `json:"Subject"`
	Body               string   `json:"Body"`
	DateTimeReceived   string   `json:"DateTimeReceived"`
}

func parseOutlook(raw models.RawEmailFile, fields map[string]json.RawMessage) *models.CanonicalEmail {
	email := &models.CanonicalEmail{
		RawFileID:    raw.ID,
		SourceFormat: models.FormatOutlook,
	}

	var msg outlookMessage
	if err := unmarshalFields(fields, &msg); err != nil {
		email.ValidationErrors = append(email.ValidationErrors, "outlook payload malformed: "+err.Error())
		return email
	}
	email.Sender = msg.SenderEmailAddress
	email.Recipients = msg.ToRecipients
	email.Subject = msg.Subject
	email.Body = msg.Body
	if msg.DateTimeReceived != "" {
		if t, err := time.Parse(time.RFC3339, msg.DateTimeReceived); err == nil {
			email.SentAt = t.UTC()
		} else {
			email.ValidationErrors = append(email.ValidationErrors, "outlook date unparseable: "+msg.DateTimeReceived)
		}
	}
	return email
}

type simpleMessage struct {
	Sender      string            `json:"sender"`
	Recipients  []string          `json:"recipients"`
	Subject     string            `json:"subject"`
	EmailText   string            `json:"email_text"`
	EmailDate   string            `json:"email_date"`
	Attachments []simpleAttachment `json:"attachments"`
}

type simpleAttachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func parseSimple(raw models.RawEmailFile, fields map[string]json.RawMessage, format models.SourceFormat) *models.CanonicalEmail {
	email := &models.CanonicalEmail{
		RawFileID:    raw.ID,
		SourceFormat: format,
	}

	var msg simpleMessage
	if err := unmarshalFields(fields, &msg); err != nil {
		email.ValidationErrors = append(email.ValidationErrors, "payload malformed: "+err.Error())
		return email
	}
	email.Sender = msg.Sender
	email.Recipients = msg.Recipients
	email.Subject = msg.Subject
	email.Body = msg.EmailText
	if msg.EmailDate != "" {
		if t, err := time.Parse(time.RFC3339, msg.EmailDate); err == nil {
			email.SentAt = t.UTC()
		} else {
			email.ValidationErrors = append(email.ValidationErrors, "email_date unparseable: "+msg.EmailDate)
		}
	}
	for _, att := range msg.Attachments {
		email.AttachmentsMeta = append(email.AttachmentsMeta, models.AttachmentMeta{Name: att.Name, Size: att.Size})
	}
	if format == models.FormatMarketing {
		label := models.ClassMarketing
		email.Classification = &label
	}
	return email
}

func parseRawText(raw models.RawEmailFile) *models.CanonicalEmail {
	return &models.CanonicalEmail{
		RawFileID:    raw.ID,
		SourceFormat: models.FormatRawText,
		Subject:      raw.FileName,
		Body:         string(raw.RawContent),
		SentAt:       raw.ReceivedAt,
	}
}

func parseUnknown(raw models.RawEmailFile) *models.CanonicalEmail {
	return &models.CanonicalEmail{
		RawFileID:        raw.ID,
		SourceFormat:     models.FormatUnknown,
		Body:             string(raw.RawContent),
		SentAt:           raw.ReceivedAt,
		ValidationErrors: []string{"unrecognized format"},
	}
}

// finish assigns identity and runs the advisory validation pass.
// CreatedAt is stamped here because the store inserts it verbatim.
func finish(raw models.RawEmailFile, email *models.CanonicalEmail) *models.CanonicalEmail {
	email.ID = uuid.New()
	email.RawFileID = raw.ID
	email.CreatedAt = time.Now().UTC()
	email.ValidationErrors = append(email.ValidationErrors, validate(email)...)
	return email
}

func unmarshalFields(fields map[string]json.RawMessage, dst any) error {
	reassembled, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(reassembled, dst)
}

// asInt64 reads a JSON value that may be a number or a numeric string,
// as the Gmail API encodes internalDate.
func asInt64(raw json.RawMessage) (int64, bool) {
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return n, true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if _, err := fmt.Sscan(s, &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
