// Package db is the local pass registry and redemption ledger storage.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/passifypro/passify/internal/models"
)

var (
	// ErrNotFound indicates no row matched the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyRedeemed indicates a redemption record already exists for
	// the object.
	ErrAlreadyRedeemed = errors.New("pass already redeemed")
)

// Store persists issued passes and redemption records in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the registry database under dataDir.
func NewStore(dataDir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "passify.db")

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Info().Str("path", dbPath).Msg("pass registry initialized")
	return store, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS passes (
			object_id TEXT PRIMARY KEY,
			class_id TEXT NOT NULL,
			order_id TEXT NOT NULL UNIQUE,
			purchaser_id TEXT NOT NULL,
			ticket_number TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_passes_ticket_number ON passes(ticket_number);

		CREATE TABLE IF NOT EXISTS redemptions (
			object_id TEXT PRIMARY KEY,
			ticket_number TEXT NOT NULL,
			redeemed_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SavePass inserts or refreshes a pass record. The order_id uniqueness
// constraint backs the issuance idempotency guarantee.
func (s *Store) SavePass(ctx context.Context, rec *models.PassRecord) error {
	query := `
		INSERT INTO passes (object_id, class_id, order_id, purchaser_id, ticket_number, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_id) DO UPDATE SET state = excluded.state
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ObjectID,
		rec.ClassID,
		rec.OrderID,
		rec.PurchaserID,
		rec.TicketNumber,
		string(rec.State),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}
	return nil
}

// GetPassByObjectID returns the pass with the given object ID.
func (s *Store) GetPassByObjectID(ctx context.Context, objectID string) (*models.PassRecord, error) {
	return s.getPass(ctx, "object_id = ?", objectID)
}

// GetPassByOrderID returns the pass issued for the given order, or nil when
// the order has no pass yet.
func (s *Store) GetPassByOrderID(ctx context.Context, orderID string) (*models.PassRecord, error) {
	rec, err := s.getPass(ctx, "order_id = ?", orderID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// GetPassByTicketNumber returns the pass carrying the given ticket number.
func (s *Store) GetPassByTicketNumber(ctx context.Context, ticketNumber string) (*models.PassRecord, error) {
	return s.getPass(ctx, "ticket_number = ?", ticketNumber)
}

func (s *Store) getPass(ctx context.Context, where string, arg string) (*models.PassRecord, error) {
	query := `
		SELECT object_id, class_id, order_id, purchaser_id, ticket_number, state, created_at
		FROM passes
		WHERE ` + where

	var rec models.PassRecord
	var state, createdAt string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ObjectID,
		&rec.ClassID,
		&rec.OrderID,
		&rec.PurchaserID,
		&rec.TicketNumber,
		&state,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query pass: %w", err)
	}

	rec.State = models.PassState(state)
	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &rec, nil
}

// UpdatePassState sets the local state mirror for a pass.
func (s *Store) UpdatePassState(ctx context.Context, objectID string, state models.PassState) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE passes SET state = ? WHERE object_id = ?`,
		string(state), objectID)
	if err != nil {
		return fmt.Errorf("update pass state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pass state: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRedemption appends a redemption record and marks the pass redeemed,
// atomically. Returns ErrAlreadyRedeemed if a record already exists; the
// redemptions table is append-only and never updated or deleted.
func (s *Store) CreateRedemption(ctx context.Context, rec *models.RedemptionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM redemptions WHERE object_id = ?`, rec.ObjectID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check redemption: %w", err)
	}
	if exists > 0 {
		return ErrAlreadyRedeemed
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO redemptions (object_id, ticket_number, redeemed_at) VALUES (?, ?, ?)`,
		rec.ObjectID, rec.TicketNumber, rec.RedeemedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE passes SET state = ? WHERE object_id = ?`,
		string(models.PassStateRedeemed), rec.ObjectID)
	if err != nil {
		return fmt.Errorf("mark pass redeemed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit redemption: %w", err)
	}
	return nil
}

// GetRedemption returns the redemption record for an object, if any.
func (s *Store) GetRedemption(ctx context.Context, objectID string) (*models.RedemptionRecord, error) {
	var rec models.RedemptionRecord
	var redeemedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT object_id, ticket_number, redeemed_at FROM redemptions WHERE object_id = ?`,
		objectID).Scan(&rec.ObjectID, &rec.TicketNumber, &redeemedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query redemption: %w", err)
	}

	rec.RedeemedAt, err = time.Parse(time.RFC3339, redeemedAt)
	if err != nil {
		return nil, fmt.Errorf("parse redeemed_at: %w", err)
	}
	return &rec, nil
}

// ListActivePasses returns every pass whose local state mirror is ACTIVE.
// Used by the reconciler to find passes worth checking against the backend.
func (s *Store) ListActivePasses(ctx context.Context) ([]*models.PassRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_id, class_id, order_id, purchaser_id, ticket_number, state, created_at
		FROM passes
		WHERE state = ?
		ORDER BY created_at
	`, string(models.PassStateActive))
	if err != nil {
		return nil, fmt.Errorf("query active passes: %w", err)
	}
	defer rows.Close()

	var records []*models.PassRecord
	for rows.Next() {
		var rec models.PassRecord
		var state, createdAt string
		if err := rows.Scan(&rec.ObjectID, &rec.ClassID, &rec.OrderID, &rec.PurchaserID,
			&rec.TicketNumber, &state, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		rec.State = models.PassState(state)
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
