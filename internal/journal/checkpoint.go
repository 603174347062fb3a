package journal

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/zeebo/blake3"

	"github.com/sandpolis/sandpolis/internal/codec"
	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/state"
)

// Checkpoint is one stored snapshot. Snapshot is nil in List results.
type Checkpoint struct {
	ID          string
	Root        oid.Oid
	Seq         int64
	CreatedAt   time.Time
	Compression codec.CompressionTag
	// Size is the length of the encoded snapshot before compression.
	Size     int
	Snapshot *state.DocumentSnapshot
}

// Write stores snap as the newest checkpoint of root.
func (j *Journal) Write(ctx context.Context, root oid.Oid, snap *state.DocumentSnapshot) (Checkpoint, error) {
	encoded, err := state.EncodeDocument(snap)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: %w", err)
	}
	payload, err := codec.Compress(j.compression, encoded)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: %w", err)
	}
	digest := blake3.Sum256(payload)

	id, err := j.ids.NewID()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: generate id: %w", err)
	}
	created := j.clock.Now().UnixMilli()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE root = ?`,
		root.String(),
	).Scan(&seq)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints
		(id, root, seq, created_at, compression, size, digest, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		root.String(),
		seq,
		created,
		int(j.compression),
		len(encoded),
		digest[:],
		payload,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return Checkpoint{}, fmt.Errorf("write checkpoint: %w: %s", ErrDuplicateID, id)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: commit: %w", err)
	}

	j.logger.Debug("checkpoint written",
		"id", id,
		"oid", root.String(),
		"seq", seq,
		"size", len(encoded),
		"stored", len(payload))

	return Checkpoint{
		ID:          id,
		Root:        root,
		Seq:         seq,
		CreatedAt:   time.UnixMilli(created),
		Compression: j.compression,
		Size:        len(encoded),
	}, nil
}

// Latest returns the newest checkpoint of root with its snapshot.
func (j *Journal) Latest(ctx context.Context, root oid.Oid) (*Checkpoint, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, seq, created_at, compression, size, digest, payload
		FROM checkpoints
		WHERE root = ?
		ORDER BY seq DESC
		LIMIT 1
	`, root.String())

	cp, err := scanFull(row, root)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, root)
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

// Read returns the checkpoint with id.
func (j *Journal) Read(ctx context.Context, id string) (*Checkpoint, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT root, id, seq, created_at, compression, size, digest, payload
		FROM checkpoints
		WHERE id = ?
	`, id)

	var rootText string
	cp, err := scanFull(rootScanner{row: row, root: &rootText}, oid.Root())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", ErrNoCheckpoint, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	root, err := oid.Parse(rootText)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp.Root = root
	return cp, nil
}

// rootScanner peels the leading root column off a Read row.
type rootScanner struct {
	row  *sql.Row
	root *string
}

func (r rootScanner) Scan(dest ...any) error {
	return r.row.Scan(append([]any{r.root}, dest...)...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFull(row scanner, root oid.Oid) (*Checkpoint, error) {
	var (
		cp          Checkpoint
		created     int64
		compression int
		digest      []byte
		payload     []byte
	)
	if err := row.Scan(&cp.ID, &cp.Seq, &created, &compression, &cp.Size, &digest, &payload); err != nil {
		return nil, err
	}
	cp.Root = root
	cp.CreatedAt = time.UnixMilli(created)
	cp.Compression = codec.CompressionTag(compression)

	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], digest) {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, cp.ID)
	}
	encoded, err := codec.Decompress(cp.Compression, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, cp.ID, err)
	}
	if cp.Snapshot, err = state.DecodeDocument(encoded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, cp.ID, err)
	}
	return &cp, nil
}

// List returns the checkpoints of root, newest first, without snapshots.
func (j *Journal) List(ctx context.Context, root oid.Oid) ([]Checkpoint, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, seq, created_at, compression, size
		FROM checkpoints
		WHERE root = ?
		ORDER BY seq DESC
	`, root.String())
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var (
			cp          Checkpoint
			created     int64
			compression int
		)
		if err := rows.Scan(&cp.ID, &cp.Seq, &created, &compression, &cp.Size); err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		cp.Root = root
		cp.CreatedAt = time.UnixMilli(created)
		cp.Compression = codec.CompressionTag(compression)
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keep checkpoints of root and returns
// how many were deleted. keep must be at least 1: the newest row carries
// the root's sequence forward.
func (j *Journal) Prune(ctx context.Context, root oid.Oid, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune checkpoints: %w: %d", ErrInvalidKeep, keep)
	}
	res, err := j.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE root = ? AND seq NOT IN (
			SELECT seq FROM checkpoints WHERE root = ? ORDER BY seq DESC LIMIT ?
		)
	`, root.String(), root.String(), keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	if n > 0 {
		j.logger.Info("pruned checkpoints", "oid", root.String(), "deleted", n, "kept", keep)
	}
	return n, nil
}
