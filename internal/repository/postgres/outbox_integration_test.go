package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelinkhq/platform-core/internal/repository"
)

// These tests run the claim query against a real Postgres because its
// ordering guarantees live in SQL that sqlmock never executes. Set
// TEST_DATABASE_URL to a scratch database to enable them.

func integrationRepo(t *testing.T) repository.OutboxRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../../schema/outbox.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE outbox_events`)
	require.NoError(t, err)

	return NewOutboxRepository(NewBaseRepository(db))
}

// insertPending writes a PENDING row directly so retry and claim state
// can be staged. Seq comes from the sequence, so insertion order is
// creation order.
func insertPending(t *testing.T, repo repository.OutboxRepository, aggregateID, eventType string, retryAt, claimedUntil *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	db := repo.(*outboxRepository).db
	_, err := db.Exec(`
		INSERT INTO outbox_events (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, retry_at, claimed_until
		) VALUES ($1, 'device', $2, $3, '{}', 'PENDING', $4, $5)
	`, id, aggregateID, eventType, retryAt, claimedUntil)
	require.NoError(t, err)
	return id
}

func TestClaimBatchBackedOffHeadBlocksStream(t *testing.T) {
	repo := integrationRepo(t)

	// Head of d1 is waiting out a retry backoff; its successor is
	// runnable. Neither may be claimed: dispatching the successor first
	// would reorder the stream.
	retryAt := time.Now().Add(time.Hour)
	insertPending(t, repo, "d1", "device.created", &retryAt, nil)
	insertPending(t, repo, "d1", "device.updated", nil, nil)

	events, err := repo.ClaimBatch(context.Background(), "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClaimBatchLeasedHeadBlocksStream(t *testing.T) {
	repo := integrationRepo(t)

	// Another instance holds a live lease on d1's head. Claiming the
	// successor would dispatch two events of one aggregate concurrently.
	leased := time.Now().Add(time.Minute)
	insertPending(t, repo, "d1", "device.created", nil, &leased)
	insertPending(t, repo, "d1", "device.updated", nil, nil)

	events, err := repo.ClaimBatch(context.Background(), "relay-b", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClaimBatchClaimsOneHeadPerAggregate(t *testing.T) {
	repo := integrationRepo(t)

	d1Head := insertPending(t, repo, "d1", "device.created", nil, nil)
	insertPending(t, repo, "d1", "device.updated", nil, nil)
	d2Head := insertPending(t, repo, "d2", "device.created", nil, nil)

	events, err := repo.ClaimBatch(context.Background(), "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 2)

	claimed := map[uuid.UUID]bool{events[0].ID: true, events[1].ID: true}
	assert.True(t, claimed[d1Head], "d1's head must be claimed, not its successor")
	assert.True(t, claimed[d2Head])
}

func TestClaimBatchReclaimsExpiredLease(t *testing.T) {
	repo := integrationRepo(t)

	// A crashed holder's lease has lapsed; the head is runnable again.
	expired := time.Now().Add(-time.Minute)
	head := insertPending(t, repo, "d1", "device.created", nil, &expired)

	events, err := repo.ClaimBatch(context.Background(), "relay-b", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, head, events[0].ID)
	require.NotNil(t, events[0].ClaimedBy)
	assert.Equal(t, "relay-b", *events[0].ClaimedBy)
}

func TestScheduleRetryThenClaimSkipsStream(t *testing.T) {
	repo := integrationRepo(t)

	head := insertPending(t, repo, "d1", "device.created", nil, nil)
	insertPending(t, repo, "d1", "device.updated", nil, nil)

	// First poll claims the head, the publish fails, the retry is
	// scheduled in the future. The next poll must leave d1 alone.
	events, err := repo.ClaimBatch(context.Background(), "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, head, events[0].ID)

	require.NoError(t, repo.ScheduleRetry(context.Background(), head,
		"broker unavailable", time.Now().Add(time.Hour)))

	events, err = repo.ClaimBatch(context.Background(), "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, events, "backed-off head must keep blocking its stream")
}
