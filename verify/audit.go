package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const insertAuditSQL = `
INSERT INTO verification_audit (
	user_id, display_name, username, phone_number, document_file_id,
	outcome, actor, delivery_failed, requested_at, decided_at
) VALUES (
	:user_id, :display_name, :username, :phone_number, :document_file_id,
	:outcome, :actor, :delivery_failed, :requested_at, :decided_at
)`

type auditRow struct {
	UserID         int64     `db:"user_id"`
	DisplayName    string    `db:"display_name"`
	Username       string    `db:"username"`
	PhoneNumber    string    `db:"phone_number"`
	DocumentFileID string    `db:"document_file_id"`
	Outcome        string    `db:"outcome"`
	Actor          string    `db:"actor"`
	DeliveryFailed bool      `db:"delivery_failed"`
	RequestedAt    time.Time `db:"requested_at"`
	DecidedAt      time.Time `db:"decided_at"`
}

// Journal persists terminal decisions to Postgres. In-flight conversation
// state stays in memory; only resolved requests are written out.
type Journal struct {
	db *sqlx.DB
}

// NewJournal builds the audit journal over an open database handle.
func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

// Record inserts one decision row.
func (j *Journal) Record(ctx context.Context, dec Decision) error {
	row := auditRow{
		UserID:         dec.Request.UserID,
		DisplayName:    dec.Request.DisplayName(),
		Username:       dec.Request.Username,
		PhoneNumber:    dec.Request.Phone,
		DocumentFileID: dec.Request.DocumentFileID,
		Outcome:        string(dec.Outcome),
		Actor:          dec.Actor,
		DeliveryFailed: dec.DeliveryFailed,
		RequestedAt:    dec.Request.CreatedAt,
		DecidedAt:      dec.DecidedAt,
	}
	if _, err := j.db.NamedExecContext(ctx, insertAuditSQL, row); err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}
