package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/engageflow/flows/pkg/models"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/google/uuid"
)

// EventRepository appends to and reads the immutable run audit trail.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

// AppendEvent writes one audit record. Events are never updated or deleted.
func (r *EventRepository) AppendEvent(ctx context.Context, event *models.FlowEvent) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewRunError("AppendEvent", event.RunID, err)
		}

		event.ID = id.String()
	}

	var payloadJSON []byte

	if event.Payload != nil {
		var err error

		payloadJSON, err = json.Marshal(event.Payload)
		if err != nil {
			return persistence.NewRunError("AppendEvent", event.RunID, err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO flow_events (id, run_id, type, node_id, timestamp, payload)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		event.ID, event.RunID, event.Type, event.NodeID, event.Timestamp, payloadJSON,
	)
	if err != nil {
		return persistence.NewRunError("AppendEvent", event.RunID, err)
	}

	return nil
}

// ListEvents returns the run's events ordered by timestamp ascending.
func (r *EventRepository) ListEvents(ctx context.Context, runID string) ([]*models.FlowEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, type, COALESCE(node_id, ''), timestamp, payload
		 FROM flow_events WHERE run_id = $1 ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.FlowEvent, 0)

	for rows.Next() {
		var (
			event       models.FlowEvent
			payloadJSON []byte
		)

		err := rows.Scan(&event.ID, &event.RunID, &event.Type, &event.NodeID, &event.Timestamp, &payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if len(payloadJSON) > 0 {
			err = json.Unmarshal(payloadJSON, &event.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}

		events = append(events, &event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
