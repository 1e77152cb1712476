// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	pollInterval = time.Millisecond
	os.Exit(m.Run())
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "test-project", false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateReadExists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	exists, err := s.Exists(ctx, "chat")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Create(ctx, "chat", map[string]any{"messages": []string{}}))

	exists, err = s.Exists(ctx, "chat")
	require.NoError(t, err)
	assert.True(t, exists)

	var doc map[string]any
	require.NoError(t, s.Read(ctx, "chat", &doc))
	assert.Contains(t, doc, "messages")
}

func TestCreateLeavesExistingDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Create(ctx, "k", map[string]int{"v": 1}))
	require.NoError(t, s.Create(ctx, "k", map[string]int{"v": 2}))

	var doc map[string]int
	require.NoError(t, s.Read(ctx, "k", &doc))
	assert.Equal(t, 1, doc["v"])
}

func TestReadMissingKey(t *testing.T) {
	s := openTestStore(t)
	var doc map[string]any
	err := s.Read(context.Background(), "missing", &doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key not found")
}

func TestMutateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	type counter struct {
		N int `json:"n"`
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, Mutate(ctx, s, "counter", func(c *counter) error {
			c.N++
			return nil
		}))
	}

	var c counter
	require.NoError(t, s.Read(ctx, "counter", &c))
	assert.Equal(t, 3, c.N)
}

func TestSessionNilLeavesDocumentUnchanged(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Create(ctx, "k", "original"))

	require.NoError(t, s.Session(ctx, "k", func(raw []byte) ([]byte, error) {
		return nil, nil
	}))

	var v string
	require.NoError(t, s.Read(ctx, "k", &v))
	assert.Equal(t, "original", v)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	rw, err := Open(dir, "p", false)
	require.NoError(t, err)
	require.NoError(t, rw.Create(ctx, "k", 1))
	require.NoError(t, rw.Close())

	ro, err := Open(dir, "p", true)
	require.NoError(t, err)
	defer ro.Close()

	assert.ErrorIs(t, ro.Create(ctx, "k2", 1), ErrReadOnly)
	assert.ErrorIs(t, ro.Session(ctx, "k", func([]byte) ([]byte, error) { return nil, nil }), ErrReadOnly)

	var v int
	require.NoError(t, ro.Read(ctx, "k", &v))
	assert.Equal(t, 1, v)
}

func TestAwaitUpdateTimesOut(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	stamp, err := s.UpdateStamp(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, stamp)

	got, changed, err := s.AwaitUpdate(ctx, stamp, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, stamp, got)
}

func TestAwaitUpdateSeesWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	stamp, err := s.UpdateStamp(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(5 * time.Millisecond)
		_ = s.Create(ctx, "later", "x")
	}()

	got, changed, err := s.AwaitUpdate(ctx, stamp, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, stamp, got)
	<-done
}
