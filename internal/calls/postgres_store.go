package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/callwatch/internal/eventlog"
	"github.com/mbd888/callwatch/internal/transcript"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore persists calls and their audit trail in PostgreSQL.
// The schema lives in the top-level migrations package.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed call store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

const callColumns = `id, customer_name, timezone, started_at, status,
	composite_avg, overall_label, turn_count, event_count,
	created_at, updated_at, ended_at`

func (s *PostgresStore) CreateCall(ctx context.Context, call *Call) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (`+callColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		call.CallID,
		call.CustomerName,
		call.Timezone,
		call.StartedAt,
		string(call.Status),
		call.Risk.CompositeAvg,
		string(call.Risk.OverallLabel),
		call.TurnCount,
		call.EventCount,
		call.CreatedAt,
		call.UpdatedAt,
		call.EndedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrCallExists
		}
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

func (s *PostgresStore) ListCalls(ctx context.Context, filter ListFilter) ([]*Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE ($1::text = '' OR status = $1::text)`
	args := []any{string(filter.Status)}
	if filter.After != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, filter.After.CreatedAt, filter.After.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		result = append(result, call)
	}
	return result, rows.Err()
}

func (s *PostgresStore) EndCall(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calls SET status = 'ended', ended_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Distinguish a missing call from one that already ended.
	if _, err := s.GetCall(ctx, id); err != nil {
		return err
	}
	return ErrCallEnded
}

func (s *PostgresStore) AppendRecords(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		t := rec.Turn
		triggered := t.RuleTriggered
		if triggered == nil {
			triggered = []string{}
		}
		// TEXT columns reject NUL; one such turn would fail the whole batch.
		text := strings.ReplaceAll(t.Text, "\x00", "")
		_, err := tx.ExecContext(ctx, `
			INSERT INTO call_turns (
				call_id, turn_number, clock, speaker, text, confidence,
				keyword_match_score, critical, expected_intent, rule_triggered,
				composite_score, label, risk_avg, risk_label, recorded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (call_id, turn_number) DO NOTHING
		`,
			rec.CallID, t.TurnNumber, t.Timestamp, string(t.Speaker), text, t.Confidence,
			t.KeywordMatchScore, t.Critical, string(t.ExpectedIntent), pq.Array(triggered),
			t.CompositeScore, string(t.Label), rec.Risk.CompositeAvg, string(rec.Risk.OverallLabel), rec.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert turn %d of %s: %w", t.TurnNumber, rec.CallID, err)
		}

		for _, ev := range rec.Events {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO call_events (
					call_id, seq, turn_number, clock, rule, severity, suggested_action, recorded_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (call_id, seq) DO NOTHING
			`, rec.CallID, ev.Seq, ev.TurnNumber, ev.Time, ev.Rule, string(ev.Severity), ev.SuggestedAction, rec.RecordedAt)
			if err != nil {
				return fmt.Errorf("failed to insert event %d of %s: %w", ev.Seq, rec.CallID, err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE calls SET
				composite_avg = $2,
				overall_label = $3,
				turn_count    = (SELECT COUNT(*) FROM call_turns WHERE call_id = $1),
				event_count   = (SELECT COUNT(*) FROM call_events WHERE call_id = $1),
				updated_at    = $4
			WHERE id = $1
		`, rec.CallID, rec.Risk.CompositeAvg, string(rec.Risk.OverallLabel), rec.RecordedAt)
		if err != nil {
			return fmt.Errorf("failed to update call %s: %w", rec.CallID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrCallNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, callID string) ([]transcript.ScoredTurn, error) {
	if _, err := s.GetCall(ctx, callID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_number, clock, speaker, text, confidence, keyword_match_score,
		       critical, expected_intent, rule_triggered, composite_score, label
		FROM call_turns
		WHERE call_id = $1
		ORDER BY turn_number
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []transcript.ScoredTurn{}
	for rows.Next() {
		var st transcript.ScoredTurn
		var speaker, intent, label string
		var triggered []string
		if err := rows.Scan(
			&st.TurnNumber, &st.Timestamp, &speaker, &st.Text, &st.Confidence, &st.KeywordMatchScore,
			&st.Critical, &intent, pq.Array(&triggered), &st.CompositeScore, &label,
		); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		st.Speaker = transcript.Speaker(speaker)
		st.ExpectedIntent = transcript.Intent(intent)
		st.Label = transcript.Label(label)
		st.RuleTriggered = triggered
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListEvents(ctx context.Context, callID string) ([]eventlog.Event, error) {
	if _, err := s.GetCall(ctx, callID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, turn_number, clock, rule, severity, suggested_action
		FROM call_events
		WHERE call_id = $1
		ORDER BY seq
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []eventlog.Event{}
	for rows.Next() {
		var ev eventlog.Event
		var severity string
		if err := rows.Scan(&ev.Seq, &ev.TurnNumber, &ev.Time, &ev.Rule, &severity, &ev.SuggestedAction); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Severity = eventlog.Severity(severity)
		result = append(result, ev)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*Call, error) {
	var c Call
	var status, label string
	var endedAt sql.NullTime
	err := row.Scan(
		&c.CallID, &c.CustomerName, &c.Timezone, &c.StartedAt, &status,
		&c.Risk.CompositeAvg, &label, &c.TurnCount, &c.EventCount,
		&c.CreatedAt, &c.UpdatedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.NextTurnNumber = c.TurnCount + 1
	c.Risk.OverallLabel = transcript.Label(label)
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return &c, nil
}
