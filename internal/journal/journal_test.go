package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandpolis/sandpolis/internal/codec"
	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/state"
	"github.com/sandpolis/sandpolis/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestJournal opens a journal in a temp directory with predictable
// ids and a fake clock.
func createTestJournal(t *testing.T, opts ...Option) (*Journal, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	base := []Option{
		WithIDGenerator(&testutil.SequenceIDs{Prefix: "cp-"}),
		WithClock(clock),
		WithLogger(quietLogger()),
	}
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, clock
}

// sampleSnapshot builds a small tree and returns its root snapshot.
func sampleSnapshot(t *testing.T, name string) *state.DocumentSnapshot {
	t.Helper()
	tree := state.New(state.WithClock(testutil.NewFakeClock(time.Time{})), state.WithLogger(quietLogger()))
	t.Cleanup(tree.Close)

	doc := tree.Root().Document(2)
	doc.Attribute(1).Set(state.String(name))
	doc.Attribute(2).Set(state.Int(42))
	doc.Collection(3).Document(1).Attribute(1).Set(state.Bytes{0xde, 0xad})

	snap, err := tree.Snapshot()
	require.NoError(t, err)
	return snap
}

func encoded(t *testing.T, snap *state.DocumentSnapshot) []byte {
	t.Helper()
	data, err := state.EncodeDocument(snap)
	require.NoError(t, err)
	return data
}

func TestOpen_Pragmas(t *testing.T) {
	j, _ := createTestJournal(t)

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("synchronous", "1"))
	assert.NoError(t, j.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = j.Write(ctx, oid.Root(), sampleSnapshot(t, "first"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer j.Close()

	list, err := j.List(ctx, oid.Root())
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, err = uuid.Parse(list[0].ID)
	assert.NoError(t, err, "default ids are uuids")
}

func TestJournal_WriteLatestRoundTrip(t *testing.T) {
	for _, tag := range []codec.CompressionTag{codec.CompressionNone, codec.CompressionLZ4, codec.CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			j, _ := createTestJournal(t, WithCompression(tag))
			ctx := context.Background()
			snap := sampleSnapshot(t, "alpha")

			written, err := j.Write(ctx, oid.Root(), snap)
			require.NoError(t, err)
			assert.Equal(t, "cp-0001", written.ID)
			assert.Equal(t, int64(1), written.Seq)
			assert.Equal(t, tag, written.Compression)
			assert.Equal(t, len(encoded(t, snap)), written.Size)

			latest, err := j.Latest(ctx, oid.Root())
			require.NoError(t, err)
			assert.Equal(t, "cp-0001", latest.ID)
			assert.True(t, latest.CreatedAt.Equal(testutil.Epoch))
			assert.Equal(t, encoded(t, snap), encoded(t, latest.Snapshot))
		})
	}
}

func TestJournal_OrderingAndIsolation(t *testing.T) {
	j, clock := createTestJournal(t)
	ctx := context.Background()
	other := oid.MustNew(oid.Component(8))

	for _, name := range []string{"one", "two", "three"} {
		_, err := j.Write(ctx, oid.Root(), sampleSnapshot(t, name))
		require.NoError(t, err)
		// Every checkpoint shares the first timestamp until the clock moves.
	}
	clock.Advance(time.Second)
	_, err := j.Write(ctx, other, sampleSnapshot(t, "elsewhere"))
	require.NoError(t, err)

	list, err := j.List(ctx, oid.Root())
	require.NoError(t, err)
	var ids []string
	for _, cp := range list {
		ids = append(ids, cp.ID)
		assert.Nil(t, cp.Snapshot)
	}
	assert.Equal(t, []string{"cp-0003", "cp-0002", "cp-0001"}, ids)

	latest, err := j.Latest(ctx, oid.Root())
	require.NoError(t, err)
	assert.Equal(t, encoded(t, sampleSnapshot(t, "three")), encoded(t, latest.Snapshot))

	otherLatest, err := j.Latest(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "cp-0004", otherLatest.ID)
	assert.Equal(t, int64(1), otherLatest.Seq)

	byID, err := j.Read(ctx, "cp-0004")
	require.NoError(t, err)
	assert.Equal(t, other.String(), byID.Root.String())
}

func TestJournal_Prune(t *testing.T) {
	j, _ := createTestJournal(t)
	ctx := context.Background()
	for range 5 {
		_, err := j.Write(ctx, oid.Root(), sampleSnapshot(t, "x"))
		require.NoError(t, err)
	}

	n, err := j.Prune(ctx, oid.Root(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	list, err := j.List(ctx, oid.Root())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cp-0005", list[0].ID)
	assert.Equal(t, "cp-0004", list[1].ID)

	// The sequence continues past pruned checkpoints.
	cp, err := j.Write(ctx, oid.Root(), sampleSnapshot(t, "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), cp.Seq)

	for _, keep := range []int{0, -1} {
		_, err = j.Prune(ctx, oid.Root(), keep)
		assert.ErrorIs(t, err, ErrInvalidKeep)
	}

	// Pruning to one row still carries the sequence forward.
	_, err = j.Prune(ctx, oid.Root(), 1)
	require.NoError(t, err)
	cp, err = j.Write(ctx, oid.Root(), sampleSnapshot(t, "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.Seq)
}

func TestJournal_WriteRejectsDuplicateID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()
	open := func() *Journal {
		j, err := Open(path,
			WithIDGenerator(&testutil.SequenceIDs{Prefix: "cp-"}),
			WithLogger(quietLogger()))
		require.NoError(t, err)
		return j
	}

	j := open()
	first, err := j.Write(ctx, oid.Root(), sampleSnapshot(t, "first"))
	require.NoError(t, err)
	require.Equal(t, "cp-0001", first.ID)
	require.NoError(t, j.Close())

	// A fresh generator starts over at cp-0001.
	j = open()
	t.Cleanup(func() { j.Close() })
	_, err = j.Write(ctx, oid.Root(), sampleSnapshot(t, "second"))
	assert.ErrorIs(t, err, ErrDuplicateID)

	latest, err := j.Latest(ctx, oid.Root())
	require.NoError(t, err)
	assert.Equal(t, "cp-0001", latest.ID)
	assert.Equal(t, int64(1), latest.Seq)
	assert.Equal(t, encoded(t, sampleSnapshot(t, "first")), encoded(t, latest.Snapshot))

	list, err := j.List(ctx, oid.Root())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestJournal_Missing(t *testing.T) {
	j, _ := createTestJournal(t)
	ctx := context.Background()

	_, err := j.Latest(ctx, oid.Root())
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	_, err = j.Read(ctx, "cp-9999")
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	list, err := j.List(ctx, oid.Root())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestJournal_DetectsCorruption(t *testing.T) {
	j, _ := createTestJournal(t)
	ctx := context.Background()
	_, err := j.Write(ctx, oid.Root(), sampleSnapshot(t, "alpha"))
	require.NoError(t, err)

	_, err = j.db.ExecContext(ctx, `UPDATE checkpoints SET payload = X'00' WHERE id = 'cp-0001'`)
	require.NoError(t, err)

	_, err = j.Latest(ctx, oid.Root())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestJournal_CanceledContext(t *testing.T) {
	j, _ := createTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := j.Write(ctx, oid.Root(), sampleSnapshot(t, "alpha"))
	assert.Error(t, err)
}
