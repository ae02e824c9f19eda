package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ProfileCreated     = "profile.created"
	TaskCreated        = "task.created"
	TaskCompleted      = "task.completed"
	ChallengeCreated   = "challenge.created"
	ChallengeCompleted = "challenge.completed"
	BalanceCredited    = "balance.credited"
	BalanceBackfilled  = "balance.backfilled"
	ItemPurchased      = "store.purchased"
	ItemSelected       = "store.selected"
	CatalogSeeded      = "store.seeded"
	ProofAttached      = "proof.attached"
	APIKeyCreated      = "apikey.created"
	APIKeyRevoked      = "apikey.revoked"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if tx == nil {
		return fmt.Errorf("append %s: transaction required", evtType)
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
