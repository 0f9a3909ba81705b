package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fatihkizil1453/go-marketplace-orders/internal/orders"
)

type Repo struct{ DB *pgxpool.Pool }

// PostSystemMessage opens (or reuses) the conversation of a fulfillment unit,
// makes sure both participants are attached, and appends a system message.
func (r *Repo) PostSystemMessage(ctx context.Context, unitID, senderID, buyerID, sellerID, content string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	convID, err := getOrCreateConversation(ctx, tx, unitID)
	if err != nil {
		return err
	}
	for _, uid := range []string{buyerID, sellerID} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants(conversation_id, user_id)
			VALUES ($1,$2) ON CONFLICT DO NOTHING`, convID, uid); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages(id, conversation_id, sender_id, content, is_system)
		VALUES ($1,$2,$3,$4,true)`, uuid.NewString(), convID, senderID, content); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at=now() WHERE id=$1`, convID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UnitMessages returns the unit's conversation and its messages, oldest
// first. Only participants may read; everyone else gets NotFound, never a
// hint the conversation exists.
func (r *Repo) UnitMessages(ctx context.Context, unitID, actorID string) (*Conversation, []Message, error) {
	var c Conversation
	err := r.DB.QueryRow(ctx, `
		SELECT id, unit_id, created_at, updated_at
		FROM conversations WHERE unit_id=$1`, unitID,
	).Scan(&c.ID, &c.UnitID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, &orders.NotFoundError{Entity: "conversation", ID: unitID}
	} else if err != nil {
		return nil, nil, err
	}

	var member bool
	if err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id=$1 AND user_id=$2
		)`, c.ID, actorID).Scan(&member); err != nil {
		return nil, nil, err
	}
	if !member {
		return nil, nil, &orders.NotFoundError{Entity: "conversation", ID: unitID}
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, conversation_id, sender_id, content, is_system, created_at
		FROM messages WHERE conversation_id=$1 ORDER BY created_at, id`, c.ID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsSystem, &m.CreatedAt); err != nil {
			return nil, nil, err
		}
		out = append(out, m)
	}
	return &c, out, rows.Err()
}

func getOrCreateConversation(ctx context.Context, tx pgx.Tx, unitID string) (string, error) {
	var id string
	err := tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE unit_id=$1`, unitID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	id = uuid.NewString()
	// concurrent create of the same conversation loses to the existing row
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations(id, unit_id)
		VALUES ($1,$2)
		ON CONFLICT (unit_id) DO UPDATE SET updated_at=now()
		RETURNING id`, id, unitID).Scan(&id)
	return id, err
}
