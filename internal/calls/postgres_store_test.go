//go:build integration

package calls

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/pagination"
	"github.com/mbd888/callwatch/internal/testutil"
)

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	t.Cleanup(cleanup)
	return NewPostgresStore(db)
}

func TestPostgresStore_CreateGetEnd(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.CreateCall(ctx, storedCall("pg-1", now)))
	assert.ErrorIs(t, store.CreateCall(ctx, storedCall("pg-1", now)), ErrCallExists)

	got, err := store.GetCall(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, "Juan", got.CustomerName)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 100, got.Risk.CompositeAvg)
	assert.Equal(t, 1, got.NextTurnNumber)

	_, err = store.GetCall(ctx, "pg-missing")
	assert.ErrorIs(t, err, ErrCallNotFound)

	require.NoError(t, store.EndCall(ctx, "pg-1", now.Add(time.Minute)))
	assert.ErrorIs(t, store.EndCall(ctx, "pg-1", now), ErrCallEnded)
	assert.ErrorIs(t, store.EndCall(ctx, "pg-missing", now), ErrCallNotFound)

	got, err = store.GetCall(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestPostgresStore_AppendAndList(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.CreateCall(ctx, storedCall("pg-2", now)))

	ev := eventlog.Event{Seq: 1, TurnNumber: 2, Time: "00:02", Rule: "late_call", Severity: eventlog.SeverityMinor, SuggestedAction: "QA flag"}
	second := scoredRecord("pg-2", 2, ev)
	second.Turn.RuleTriggered = []string{"late_call"}
	require.NoError(t, store.AppendRecords(ctx, []*Record{scoredRecord("pg-2", 1), second}))

	// Replaying a batch is harmless.
	require.NoError(t, store.AppendRecords(ctx, []*Record{second}))

	got, err := store.GetCall(ctx, "pg-2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TurnCount)
	assert.Equal(t, 1, got.EventCount)
	assert.Equal(t, 3, got.NextTurnNumber)
	assert.Equal(t, 91, got.Risk.CompositeAvg)

	turns, err := store.ListTurns(ctx, "pg-2")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].TurnNumber)
	assert.Empty(t, turns[0].RuleTriggered)
	assert.Equal(t, []string{"late_call"}, turns[1].RuleTriggered)
	assert.Equal(t, 91, turns[1].CompositeScore)

	events, err := store.ListEvents(ctx, "pg-2")
	require.NoError(t, err)
	assert.Equal(t, []eventlog.Event{ev}, events)

	assert.ErrorIs(t, store.AppendRecords(ctx, []*Record{scoredRecord("pg-ghost", 1)}), ErrCallNotFound)
	_, err = store.ListTurns(ctx, "pg-ghost")
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestPostgresStore_ListCalls(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.CreateCall(ctx, storedCall("pg-a", base)))
	require.NoError(t, store.CreateCall(ctx, storedCall("pg-b", base.Add(time.Second))))
	require.NoError(t, store.CreateCall(ctx, storedCall("pg-c", base.Add(2*time.Second))))
	require.NoError(t, store.EndCall(ctx, "pg-a", base.Add(time.Minute)))

	all, err := store.ListCalls(ctx, ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "pg-c", all[0].CallID)

	after := &pagination.Cursor{CreatedAt: all[0].CreatedAt, ID: all[0].CallID}
	rest, err := store.ListCalls(ctx, ListFilter{After: after, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "pg-b", rest[0].CallID)

	ended, err := store.ListCalls(ctx, ListFilter{Status: StatusEnded, Limit: 10})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "pg-a", ended[0].CallID)
}

func TestPostgresStore_AppendStripsNulBytes(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.CreateCall(ctx, storedCall("pg-nul", now)))

	rec := scoredRecord("pg-nul", 1)
	rec.Turn.Text = "Sí\x00 acepto"
	require.NoError(t, store.AppendRecords(ctx, []*Record{rec, scoredRecord("pg-nul", 2)}))

	turns, err := store.ListTurns(ctx, "pg-nul")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Sí acepto", turns[0].Text)
}
