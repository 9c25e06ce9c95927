package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("inboxtriage_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func insertRaw(t *testing.T, s store.Store) *models.RawEmailFile {
	t.Helper()
	raw := &models.RawEmailFile{
		ID:         uuid.New(),
		SourceName: "test-source",
		FileName:   "mail.json",
		RawContent: []byte(`{"sender":"a@b.co"}`),
		Status:     models.RawStatusPending,
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRawEmail(context.Background(), raw))
	return raw
}

func insertEmail(t *testing.T, s store.Store) *models.CanonicalEmail {
	t.Helper()
	raw := insertRaw(t, s)
	email := &models.CanonicalEmail{
		ID:           uuid.New(),
		RawFileID:    raw.ID,
		SourceFormat: models.FormatSimpleJSON,
		Sender:       "a@b.co",
		Recipients:   []string{"c@d.co"},
		Subject:      "hello",
		Body:         "a body long enough for everything",
		SentAt:       time.Now().UTC().Truncate(time.Microsecond),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateEmail(context.Background(), email))
	return email
}

// --- Raw email files ---

func TestRawEmail_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	raw := insertRaw(t, s)
	assert.Positive(t, raw.Seq) // assigned by the database

	got, err := s.GetRawEmail(context.Background(), raw.ID)
	require.NoError(t, err)
	assert.Equal(t, raw.ID, got.ID)
	assert.Equal(t, models.RawStatusPending, got.Status)
	assert.Equal(t, raw.RawContent, got.RawContent)
}

func TestRawEmail_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetRawEmail(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRawEmail_ClaimOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	raw := insertRaw(t, s)

	require.NoError(t, s.ClaimRawEmail(ctx, raw.ID))

	// Second claim loses.
	assert.ErrorIs(t, s.ClaimRawEmail(ctx, raw.ID), store.ErrWrongStatus)
}

func TestRawEmail_FinishRequiresProcessing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	raw := insertRaw(t, s)

	// Not claimed yet.
	assert.ErrorIs(t, s.FinishRawEmail(ctx, raw.ID, models.RawStatusCompleted, nil), store.ErrWrongStatus)

	require.NoError(t, s.ClaimRawEmail(ctx, raw.ID))
	msg := "boom"
	require.NoError(t, s.FinishRawEmail(ctx, raw.ID, models.RawStatusFailed, &msg))

	got, err := s.GetRawEmail(ctx, raw.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RawStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)
}

func TestRawEmail_Since(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	first := insertRaw(t, s)
	second := insertRaw(t, s)
	third := insertRaw(t, s)

	rows, err := s.RawEmailsSince(ctx, first.Seq, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, third.ID, rows[1].ID)

	has, err := s.HasRawEmailsSince(ctx, third.Seq)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRawEmail_RequeueStuck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	raw := insertRaw(t, s)

	require.NoError(t, s.ClaimRawEmail(ctx, raw.ID))

	// Backdate the claim past the age threshold.
	_, err := pool.Exec(ctx,
		`UPDATE raw_email_files SET claimed_at = NOW() - INTERVAL '2 hours' WHERE id = $1`, raw.ID)
	require.NoError(t, err)

	n, err := s.RequeueStuckRawEmails(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRawEmail(ctx, raw.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RawStatusPending, got.Status)
}

// --- Canonical emails ---

func TestEmail_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	email := insertEmail(t, s)
	assert.Positive(t, email.Seq)

	got, err := s.GetEmail(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, email.Sender, got.Sender)
	assert.Equal(t, email.Recipients, got.Recipients)
	assert.Equal(t, email.SentAt, got.SentAt.UTC())
	assert.Nil(t, got.Classification)
}

func TestEmail_SetClassification(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	email := insertEmail(t, s)

	require.NoError(t, s.SetEmailClassification(ctx, email.ID, models.ClassUrgent))

	got, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Classification)
	assert.Equal(t, models.ClassUrgent, *got.Classification)
}

func TestEmail_SetEntities(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	email := insertEmail(t, s)

	bag := &models.EntityBag{People: []string{"Ada"}, Amounts: []string{"$300"}}
	require.NoError(t, s.SetEmailEntities(ctx, email.ID, bag))

	got, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExtractedEntities)
	assert.Equal(t, []string{"Ada"}, got.ExtractedEntities.People)
}

func TestEmail_ListUnenriched(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	pending := insertEmail(t, s)
	enriched := insertEmail(t, s)
	require.NoError(t, s.CreateInsight(ctx, &models.Insight{
		ID:      uuid.New(),
		EmailID: enriched.ID,
		Kind:    models.KindBriefSummary,
		Text:    "done",
	}))

	rows, err := s.ListUnenrichedEmails(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, pending.ID, rows[0].ID)
}

// --- Insights ---

func TestInsight_CreateAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	email := insertEmail(t, s)

	for _, kind := range []models.AnalysisKind{models.KindBriefSummary, models.KindSentiment} {
		require.NoError(t, s.CreateInsight(ctx, &models.Insight{
			ID:        uuid.New(),
			EmailID:   email.ID,
			Kind:      kind,
			Text:      "text for " + string(kind),
			ModelUsed: "test-model",
		}))
	}

	insights, err := s.ListInsightsByEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Len(t, insights, 2)
}

// --- Job runs ---

func TestJobRun_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	run := &models.JobRun{
		ID:        uuid.New(),
		Kind:      models.JobKindParse,
		Status:    models.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateJobRun(ctx, run))

	require.NoError(t, s.FinishJobRun(ctx, run.ID, models.JobStatusPartialFailure, 8, 2, nil))

	got, err := s.GetJobRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartialFailure, got.Status)
	assert.Equal(t, 8, got.ItemsProcessed)
	assert.Equal(t, 2, got.ItemsFailed)
	assert.NotNil(t, got.EndedAt)
}

func TestJobRun_ListFiltered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	for _, kind := range []string{models.JobKindParse, models.JobKindEnrich, models.JobKindEnrich} {
		require.NoError(t, s.CreateJobRun(ctx, &models.JobRun{
			ID:        uuid.New(),
			Kind:      kind,
			Status:    models.JobStatusCompleted,
			StartedAt: time.Now().UTC(),
		}))
	}

	runs, err := s.ListJobRuns(ctx, store.JobRunFilter{Kind: models.JobKindEnrich})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListJobRuns(ctx, store.JobRunFilter{Status: models.JobStatusFailed})
	require.NoError(t, err)
	assert.Empty(t, runs)

	runs, err = s.ListJobRuns(ctx, store.JobRunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// --- Checkpoints ---

func TestCheckpoint_DefaultsToZero(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	cp, err := s.GetCheckpoint(context.Background(), models.FeedRawEmails)
	require.NoError(t, err)
	assert.Zero(t, cp.LastSeq)
}

func TestCheckpoint_AdvanceIsMonotonic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.AdvanceCheckpoint(ctx, models.FeedRawEmails, 5))
	require.NoError(t, s.AdvanceCheckpoint(ctx, models.FeedRawEmails, 3))

	cp, err := s.GetCheckpoint(ctx, models.FeedRawEmails)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.LastSeq)

	require.NoError(t, s.AdvanceCheckpoint(ctx, models.FeedRawEmails, 9))
	cp, err = s.GetCheckpoint(ctx, models.FeedRawEmails)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cp.LastSeq)
}

func TestCheckpoint_FeedsAreIndependent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.AdvanceCheckpoint(ctx, models.FeedCanonicalEmails, 7))

	cp, err := s.GetCheckpoint(ctx, models.FeedUrgentScan)
	require.NoError(t, err)
	assert.Zero(t, cp.LastSeq)
}

// --- Alerts ---

func TestAlert_DedupUnresolved(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	email := insertEmail(t, s)

	created, err := s.CreateAlertIfNone(ctx, &models.AlertEvent{
		ID: uuid.New(), EmailID: email.ID, Reason: "first",
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateAlertIfNone(ctx, &models.AlertEvent{
		ID: uuid.New(), EmailID: email.ID, Reason: "second",
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAlert_ResolveAllowsNewAlert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	email := insertEmail(t, s)

	alert := &models.AlertEvent{ID: uuid.New(), EmailID: email.ID, Reason: "r"}
	created, err := s.CreateAlertIfNone(ctx, alert)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, s.ResolveAlert(ctx, alert.ID))

	got, err := s.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)

	// Unresolved slot is free again.
	created, err = s.CreateAlertIfNone(ctx, &models.AlertEvent{
		ID: uuid.New(), EmailID: email.ID, Reason: "again",
	})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAlert_ListUnresolvedOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	resolved := &models.AlertEvent{ID: uuid.New(), EmailID: insertEmail(t, s).ID, Reason: "r1"}
	open := &models.AlertEvent{ID: uuid.New(), EmailID: insertEmail(t, s).ID, Reason: "r2"}

	_, err := s.CreateAlertIfNone(ctx, resolved)
	require.NoError(t, err)
	_, err = s.CreateAlertIfNone(ctx, open)
	require.NoError(t, err)
	require.NoError(t, s.ResolveAlert(ctx, resolved.ID))

	alerts, err := s.ListAlerts(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, open.ID, alerts[0].ID)

	alerts, err = s.ListAlerts(ctx, false, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestAlert_PurgeResolved(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	alert := &models.AlertEvent{ID: uuid.New(), EmailID: insertEmail(t, s).ID, Reason: "old"}
	_, err := s.CreateAlertIfNone(ctx, alert)
	require.NoError(t, err)
	require.NoError(t, s.ResolveAlert(ctx, alert.ID))

	_, err = pool.Exec(ctx,
		`UPDATE alert_events SET created_at = NOW() - INTERVAL '60 days' WHERE id = $1`, alert.ID)
	require.NoError(t, err)

	n, err := s.PurgeResolvedAlerts(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetAlert(ctx, alert.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API keys ---

func TestAPIKey_CreateAndGetByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "it_abcd1",
		Scopes:    []string{"read", "write"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "it_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)
}

func TestAPIKey_RevokeHidesKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "doomed",
		KeyHash:   "h",
		KeyPrefix: "it_dead1",
		Scopes:    []string{"read"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "it_dead1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	listed, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)

	// Revoking twice is a not-found.
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "used",
		KeyHash:   "h",
		KeyPrefix: "it_used1",
		Scopes:    []string{"read"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "it_used1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}
