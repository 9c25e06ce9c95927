package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkale/inboxtriage/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Raw email files ---

func (s *PostgresStore) CreateRawEmail(ctx context.Context, raw *models.RawEmailFile) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO raw_email_files (id, source_name, file_name, raw_content, status, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING seq`,
		raw.ID, raw.SourceName, raw.FileName, raw.RawContent, raw.Status, raw.ReceivedAt,
	).Scan(&raw.Seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create raw email: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRawEmail(ctx context.Context, id uuid.UUID) (*models.RawEmailFile, error) {
	var r models.RawEmailFile
	err := s.pool.QueryRow(ctx,
		`SELECT id, seq, source_name, file_name, raw_content, status, error_message, received_at
		 FROM raw_email_files WHERE id = $1`, id,
	).Scan(&r.ID, &r.Seq, &r.SourceName, &r.FileName, &r.RawContent, &r.Status, &r.ErrorMessage, &r.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get raw email: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ClaimRawEmail(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_email_files SET status = $1, claimed_at = NOW()
		 WHERE id = $2 AND status = $3`,
		models.RawStatusProcessing, id, models.RawStatusPending)
	if err != nil {
		return fmt.Errorf("claim raw email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWrongStatus
	}
	return nil
}

func (s *PostgresStore) FinishRawEmail(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_email_files SET status = $1, error_message = $2
		 WHERE id = $3 AND status = $4`,
		status, errorMessage, id, models.RawStatusProcessing)
	if err != nil {
		return fmt.Errorf("finish raw email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWrongStatus
	}
	return nil
}

func (s *PostgresStore) RequeueStuckRawEmails(ctx context.Context, age time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_email_files SET status = $1, claimed_at = NULL
		 WHERE status = $2 AND claimed_at < NOW() - $3::interval`,
		models.RawStatusPending, models.RawStatusProcessing, age.String())
	if err != nil {
		return 0, fmt.Errorf("requeue stuck raw emails: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RawEmailsSince(ctx context.Context, seq int64, limit int) ([]*models.RawEmailFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, source_name, file_name, raw_content, status, error_message, received_at
		 FROM raw_email_files WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("raw emails since: %w", err)
	}
	defer rows.Close()

	var files []*models.RawEmailFile
	for rows.Next() {
		var r models.RawEmailFile
		if err := rows.Scan(&r.ID, &r.Seq, &r.SourceName, &r.FileName, &r.RawContent,
			&r.Status, &r.ErrorMessage, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan raw email: %w", err)
		}
		files = append(files, &r)
	}
	return files, rows.Err()
}

func (s *PostgresStore) HasRawEmailsSince(ctx context.Context, seq int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raw_email_files WHERE seq > $1)`, seq,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has raw emails since: %w", err)
	}
	return exists, nil
}

// --- Canonical emails ---

const emailColumns = `id, seq, raw_file_id, source_format, sender, recipients, subject, body,
	 sent_at, attachments_meta, classification, extracted_entities, validation_errors, created_at`

func (s *PostgresStore) CreateEmail(ctx context.Context, email *models.CanonicalEmail) error {
	attachments, err := json.Marshal(email.AttachmentsMeta)
	if err != nil {
		return fmt.Errorf("marshal attachments meta: %w", err)
	}
	var entities []byte
	if email.ExtractedEntities != nil {
		if entities, err = json.Marshal(email.ExtractedEntities); err != nil {
			return fmt.Errorf("marshal entities: %w", err)
		}
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO canonical_emails (id, raw_file_id, source_format, sender, recipients, subject,
		   body, sent_at, attachments_meta, classification, extracted_entities, validation_errors, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING seq`,
		email.ID, email.RawFileID, email.SourceFormat, email.Sender, email.Recipients,
		email.Subject, email.Body, email.SentAt, attachments, email.Classification,
		entities, email.ValidationErrors, email.CreatedAt,
	).Scan(&email.Seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create email: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmail(ctx context.Context, id uuid.UUID) (*models.CanonicalEmail, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM canonical_emails WHERE id = $1`, id)
	email, err := scanEmail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return email, nil
}

func (s *PostgresStore) SetEmailClassification(ctx context.Context, id uuid.UUID, classification string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE canonical_emails SET classification = $1 WHERE id = $2`, classification, id)
	if err != nil {
		return fmt.Errorf("set email classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetEmailEntities(ctx context.Context, id uuid.UUID, entities *models.EntityBag) error {
	data, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE canonical_emails SET extracted_entities = $1 WHERE id = $2`, data, id)
	if err != nil {
		return fmt.Errorf("set email entities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) EmailsSince(ctx context.Context, seq int64, limit int) ([]*models.CanonicalEmail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailColumns+` FROM canonical_emails WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		seq, limit)
	if err != nil {
		return nil, fmt.Errorf("emails since: %w", err)
	}
	defer rows.Close()
	return collectEmails(rows)
}

func (s *PostgresStore) HasEmailsSince(ctx context.Context, seq int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM canonical_emails WHERE seq > $1)`, seq,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has emails since: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListUnenrichedEmails(ctx context.Context, limit int) ([]*models.CanonicalEmail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailColumns+` FROM canonical_emails e
		 WHERE NOT EXISTS (SELECT 1 FROM insights i WHERE i.email_id = e.id)
		 ORDER BY seq ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unenriched emails: %w", err)
	}
	defer rows.Close()
	return collectEmails(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*models.CanonicalEmail, error) {
	var e models.CanonicalEmail
	var attachments, entities []byte
	if err := row.Scan(&e.ID, &e.Seq, &e.RawFileID, &e.SourceFormat, &e.Sender, &e.Recipients,
		&e.Subject, &e.Body, &e.SentAt, &attachments, &e.Classification, &entities,
		&e.ValidationErrors, &e.CreatedAt); err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &e.AttachmentsMeta); err != nil {
			return nil, fmt.Errorf("unmarshal attachments meta: %w", err)
		}
	}
	if len(entities) > 0 {
		e.ExtractedEntities = &models.EntityBag{}
		if err := json.Unmarshal(entities, e.ExtractedEntities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
	}
	return &e, nil
}

func collectEmails(rows pgx.Rows) ([]*models.CanonicalEmail, error) {
	var emails []*models.CanonicalEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// --- Insights ---

func (s *PostgresStore) CreateInsight(ctx context.Context, insight *models.Insight) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO insights (id, email_id, kind, text, model_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		insight.ID, insight.EmailID, insight.Kind, insight.Text, insight.ModelUsed, insight.CreatedAt)
	if err != nil {
		return fmt.Errorf("create insight: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInsightsByEmail(ctx context.Context, emailID uuid.UUID) ([]*models.Insight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email_id, kind, text, model_used, created_at
		 FROM insights WHERE email_id = $1 ORDER BY created_at ASC`, emailID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var insights []*models.Insight
	for rows.Next() {
		var i models.Insight
		if err := rows.Scan(&i.ID, &i.EmailID, &i.Kind, &i.Text, &i.ModelUsed, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, &i)
	}
	return insights, rows.Err()
}

// --- Job runs ---

func (s *PostgresStore) CreateJobRun(ctx context.Context, run *models.JobRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, kind, status, items_processed, items_failed, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Kind, run.Status, run.ItemsProcessed, run.ItemsFailed, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create job run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishJobRun(ctx context.Context, id uuid.UUID, status string, processed, failed int, errorDetail *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET status = $1, items_processed = $2, items_failed = $3,
		   error_detail = $4, ended_at = NOW()
		 WHERE id = $5`,
		status, processed, failed, errorDetail, id)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJobRun(ctx context.Context, id uuid.UUID) (*models.JobRun, error) {
	var r models.JobRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, status, items_processed, items_failed, error_detail, started_at, ended_at
		 FROM job_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Kind, &r.Status, &r.ItemsProcessed, &r.ItemsFailed, &r.ErrorDetail, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job run: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListJobRuns(ctx context.Context, filter JobRunFilter) ([]*models.JobRun, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, filter.Kind)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := fmt.Sprintf(
		`SELECT id, kind, status, items_processed, items_failed, error_detail, started_at, ended_at
		 FROM job_runs WHERE %s ORDER BY started_at DESC LIMIT $%d`,
		strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.JobRun
	for rows.Next() {
		var r models.JobRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.ItemsProcessed, &r.ItemsFailed,
			&r.ErrorDetail, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// --- Checkpoints ---

func (s *PostgresStore) GetCheckpoint(ctx context.Context, feedName string) (*models.Checkpoint, error) {
	var c models.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT feed_name, last_seq, updated_at FROM checkpoints WHERE feed_name = $1`, feedName,
	).Scan(&c.FeedName, &c.LastSeq, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Feeds start at zero; a missing row means nothing consumed yet.
		return &models.Checkpoint{FeedName: feedName}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, feedName string, seq int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (feed_name, last_seq, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (feed_name) DO UPDATE SET
		   last_seq = EXCLUDED.last_seq, updated_at = NOW()
		 WHERE checkpoints.last_seq < EXCLUDED.last_seq`,
		feedName, seq)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

// --- Alerts ---

func (s *PostgresStore) CreateAlertIfNone(ctx context.Context, alert *models.AlertEvent) (bool, error) {
	// The partial unique index on (email_id) WHERE NOT resolved enforces
	// at most one unresolved alert per email.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alert_events (id, email_id, reason, resolved, created_at)
		 VALUES ($1, $2, $3, FALSE, $4)
		 ON CONFLICT (email_id) WHERE NOT resolved DO NOTHING`,
		alert.ID, alert.EmailID, alert.Reason, alert.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id uuid.UUID) (*models.AlertEvent, error) {
	var a models.AlertEvent
	err := s.pool.QueryRow(ctx,
		`SELECT id, email_id, reason, resolved, created_at FROM alert_events WHERE id = $1`, id).
		Scan(&a.ID, &a.EmailID, &a.Reason, &a.Resolved, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, email_id, reason, resolved, created_at FROM alert_events`
	if unresolvedOnly {
		query += ` WHERE NOT resolved`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.AlertEvent
	for rows.Next() {
		var a models.AlertEvent
		if err := rows.Scan(&a.ID, &a.EmailID, &a.Reason, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_events SET resolved = TRUE WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PurgeResolvedAlerts(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_events WHERE resolved AND created_at < NOW() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("purge resolved alerts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
