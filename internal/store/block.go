package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/ir"
)

// ResetGuardBlock is the block name holding the Reset Guard state.
const ResetGuardBlock = "reset_guard"

// Block is one named persistent block. It implements engine.PersistentBlock
// and engine.ResetJournal.
type Block struct {
	store *Store
	name  string
}

// Block returns the persistent block called name.
func (s *Store) Block(name string) *Block {
	return &Block{store: s, name: name}
}

// ReadBlock returns the block contents, or engine.ErrBlockNotFound before
// the first write.
func (b *Block) ReadBlock(ctx context.Context) ([]byte, error) {
	var data []byte
	err := b.store.db.QueryRowContext(ctx,
		`SELECT data FROM persistent_blocks WHERE name = ?`, b.name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read block %q: %w", b.name, err)
	}
	return data, nil
}

// WriteBlock replaces the block contents in one statement.
func (b *Block) WriteBlock(ctx context.Context, data []byte) error {
	_, err := b.store.db.ExecContext(ctx, `
		INSERT INTO persistent_blocks (name, data)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, writes = writes + 1
	`, b.name, data)
	if err != nil {
		return fmt.Errorf("write block %q: %w", b.name, err)
	}
	return nil
}

// Writes returns how many times the block has been written.
func (b *Block) Writes(ctx context.Context) (int64, error) {
	var n int64
	err := b.store.db.QueryRowContext(ctx,
		`SELECT writes FROM persistent_blocks WHERE name = ?`, b.name,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read block %q writes: %w", b.name, err)
	}
	return n, nil
}

// RecordReset appends rec to the reset log.
func (b *Block) RecordReset(ctx context.Context, rec engine.ResetRecord) error {
	return b.store.RecordReset(ctx, rec)
}

// RecordReset appends rec to the reset log.
func (s *Store) RecordReset(ctx context.Context, rec engine.ResetRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reset_log (boot_id, cycle, origin, resets_performed, max_resets)
		VALUES (?, ?, ?, ?, ?)
	`, rec.BootID, rec.Cycle, rec.Origin, rec.State.ResetsPerformed, rec.State.MaxResets)
	if err != nil {
		return fmt.Errorf("record reset: %w", err)
	}
	return nil
}

// ResetLog returns up to limit reset records, oldest first. A limit of zero
// or less returns every record.
func (s *Store) ResetLog(ctx context.Context, limit int) ([]engine.ResetRecord, error) {
	query := `
		SELECT boot_id, cycle, origin, resets_performed, max_resets
		FROM reset_log
		ORDER BY id ASC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reset log: %w", err)
	}
	defer rows.Close()

	records := []engine.ResetRecord{}
	for rows.Next() {
		var (
			rec                  engine.ResetRecord
			performed, maxResets uint16
		)
		if err := rows.Scan(&rec.BootID, &rec.Cycle, &rec.Origin, &performed, &maxResets); err != nil {
			return nil, fmt.Errorf("scan reset log: %w", err)
		}
		rec.State = ir.NewResetGuardState(performed, maxResets)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reset log: %w", err)
	}
	return records, nil
}

// ClearResetLog deletes every reset record.
func (s *Store) ClearResetLog(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reset_log`); err != nil {
		return fmt.Errorf("clear reset log: %w", err)
	}
	return nil
}
