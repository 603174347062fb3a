package store

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandpolis/sandpolis/internal/event"
	"github.com/sandpolis/sandpolis/internal/state"
)

type item struct {
	doc *state.Document
}

func newItem(doc *state.Document) *item { return &item{doc: doc} }

func (i *item) Document() *state.Document { return i.doc }

func (i *item) Name() string {
	v, _ := state.As[state.String](i.doc.Attribute(1))
	return string(v)
}

func (i *item) SetName(name string) { i.doc.Attribute(1).Set(state.String(name)) }

func (i *item) Complete() error {
	if !i.doc.Attribute(1).IsPresent() {
		return Missing("name")
	}
	return nil
}

func (i *item) Valid() error {
	if strings.Contains(i.Name(), " ") {
		return Malformed("name", "must not contain spaces")
	}
	return nil
}

func newTestStore(t *testing.T) (*Store[*item], *state.Collection) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := state.New(state.WithLogger(logger))
	t.Cleanup(tree.Close)
	c := tree.Root().Collection(1)
	return New(c, newItem, WithLogger(logger)), c
}

func TestCreate_RegistersCompleteObject(t *testing.T) {
	s, c := newTestStore(t)

	v, err := s.Create(func(i *item) { i.SetName("alpha") })
	require.NoError(t, err)

	assert.Equal(t, 1, s.Count())
	assert.True(t, c.Contains(v.Document()))

	got, ok := s.Get(v.Document().Tag())
	require.True(t, ok)
	assert.Same(t, v, got)
}

func TestCreate_Incomplete(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Create(func(*item) {})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrIncompleteConfig)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
	assert.True(t, IsIncomplete(err))

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "name", ce.Field)
	assert.Equal(t, 0, s.Count())
}

func TestCreate_Invalid(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Create(func(i *item) { i.SetName("has space") })
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.True(t, IsInvalid(err))
	assert.Equal(t, 0, s.Count())
}

func TestCreate_DiscardedTagNotReused(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Create(func(*item) {})
	require.Error(t, err)

	v, err := s.Create(func(i *item) { i.SetName("beta") })
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v.Document().Tag())
}

type changeLog struct {
	mu   sync.Mutex
	oids []string
}

func (l *changeLog) Publish(e event.Event) {
	if c, ok := e.(state.AttributeChanged); ok {
		l.mu.Lock()
		l.oids = append(l.oids, c.Oid.String())
		l.mu.Unlock()
	}
}

func (l *changeLog) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.oids...)
}

func TestCreate_DiscardedObjectPublishesNothing(t *testing.T) {
	log := &changeLog{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := state.New(state.WithLogger(logger), state.WithPublisher(log))
	t.Cleanup(tree.Close)
	s := New(tree.Root().Collection(1), newItem, WithLogger(logger))

	_, err := s.Create(func(i *item) { i.SetName("has space") })
	require.Error(t, err)
	_, err = s.Create(func(*item) {})
	require.Error(t, err)
	assert.Empty(t, log.seen())

	v, err := s.Create(func(i *item) { i.SetName("gamma") })
	require.NoError(t, err)
	assert.Empty(t, log.seen())

	v.SetName("delta")
	assert.Equal(t, []string{v.Document().Attribute(1).Oid().String()}, log.seen())
}

func TestGet_UncachedDocument(t *testing.T) {
	s, c := newTestStore(t)
	doc := c.Document(7)

	first, ok := s.Get(7)
	require.True(t, ok)
	second, ok := s.Get(7)
	require.True(t, ok)

	assert.NotSame(t, first, second, "uncached views are not cached")
	assert.Same(t, doc, first.Document())
	assert.Same(t, first.Document(), second.Document())
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore(t)

	v, ok := s.Get(3)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestGet_StaleCacheEntry(t *testing.T) {
	s, c := newTestStore(t)
	v, err := s.Create(func(i *item) { i.SetName("gamma") })
	require.NoError(t, err)

	c.Remove(v.Document().Tag())

	_, ok := s.Get(v.Document().Tag())
	assert.False(t, ok)

	var streamed []*item
	for x := range s.Stream() {
		streamed = append(streamed, x)
	}
	assert.Empty(t, streamed)
}

func TestRemove(t *testing.T) {
	s, c := newTestStore(t)
	v, err := s.Create(func(i *item) { i.SetName("delta") })
	require.NoError(t, err)
	tag := v.Document().Tag()

	removed, ok := s.Remove(tag)
	require.True(t, ok)
	assert.Same(t, v, removed)
	assert.Equal(t, 0, c.Len())

	_, ok = s.Remove(tag)
	assert.False(t, ok)

	c.Document(9)
	removed, ok = s.Remove(9)
	require.True(t, ok)
	assert.Equal(t, uint32(9), removed.Document().Tag())
}

func TestStream_CachedFirstThenDiscovered(t *testing.T) {
	s, c := newTestStore(t)

	c.Document(1).Attribute(1).Set(state.String("merged"))
	created, err := s.Create(func(i *item) { i.SetName("created") })
	require.NoError(t, err)
	require.Equal(t, uint32(2), created.Document().Tag())

	var names []string
	for v := range s.Stream() {
		names = append(names, v.Name())
	}
	assert.Equal(t, []string{"created", "merged"}, names)

	// Restartable.
	count := 0
	for range s.Stream() {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestStream_EarlyBreak(t *testing.T) {
	s, c := newTestStore(t)
	for tag := uint32(1); tag <= 5; tag++ {
		c.Document(tag)
	}

	seen := 0
	for range s.Stream() {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestFindAndFilter(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"one", "two", "three"} {
		_, err := s.Create(func(i *item) { i.SetName(name) })
		require.NoError(t, err)
	}

	found, ok := s.Find(func(i *item) bool { return i.Name() == "two" })
	require.True(t, ok)
	assert.Equal(t, "two", found.Name())

	_, ok = s.Find(func(i *item) bool { return i.Name() == "four" })
	assert.False(t, ok)

	long := s.Filter(func(i *item) bool { return len(i.Name()) > 3 })
	require.Len(t, long, 1)
	assert.Equal(t, "three", long[0].Name())
}

func TestCreate_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(func(i *item) { i.SetName("worker") })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 32, s.Count())
	count := 0
	for range s.Stream() {
		count++
	}
	assert.Equal(t, 32, count)
}
