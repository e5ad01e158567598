package lock

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryExclusive_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.txt")

	h, err := TryExclusive(path, true)
	require.NoError(t, err)
	defer h.Release()

	assert.True(t, h.Created())
	assert.FileExists(t, path)
}

func TestTryExclusive_ExistingFileNotCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	h, err := TryExclusive(path, true)
	require.NoError(t, err)
	defer h.Release()

	assert.False(t, h.Created())
}

func TestTryExclusive_MissingWithoutCreate(t *testing.T) {
	_, err := TryExclusive(filepath.Join(t.TempDir(), "missing"), false)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestTryExclusive_ConflictsWithinProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")

	first, err := TryExclusive(path, true)
	require.NoError(t, err)

	_, err = TryExclusive(path, true)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = TryShared(path)
	assert.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, first.Release())

	second, err := TryExclusive(path, false)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestTryShared_AllowsReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	r1, err := TryShared(path)
	require.NoError(t, err)
	defer r1.Release()
	r2, err := TryShared(path)
	require.NoError(t, err)
	defer r2.Release()

	content, err := r2.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	_, err = TryExclusive(path, false)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHandle_ReplaceTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("a much longer original"), 0o644))

	h, err := TryExclusive(path, false)
	require.NoError(t, err)
	require.NoError(t, h.Replace([]byte("short")))
	require.NoError(t, h.Release())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))
}

func TestHandle_ReleaseIdempotent(t *testing.T) {
	h, err := TryExclusive(filepath.Join(t.TempDir(), "f"), true)
	require.NoError(t, err)

	require.NoError(t, h.Release())
	assert.NoError(t, h.Release())
}

func TestTryExclusive_ConcurrentSingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contended")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
		handles = make(chan *Handle, 16)
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if h, err := TryExclusive(path, false); err == nil {
				winners.Add(1)
				handles <- h
			}
		}()
	}
	close(start)
	wg.Wait()
	close(handles)

	assert.Equal(t, int32(1), winners.Load())
	for h := range handles {
		h.Release()
	}
}

func TestTable(t *testing.T) {
	tbl := NewTable("write")

	require.NoError(t, tbl.Add(&Pending{TxnID: 1, Filename: "a"}))
	assert.ErrorIs(t, tbl.Add(&Pending{TxnID: 2, Filename: "a"}), ErrHeld)
	require.NoError(t, tbl.Add(&Pending{TxnID: 2, Filename: "b"}))

	assert.True(t, tbl.Holds("a", 1))
	assert.False(t, tbl.Holds("a", 2))

	assert.Nil(t, tbl.Take("a", 2), "entry owned by another transaction")
	p := tbl.Take("a", 1)
	require.NotNil(t, p)
	assert.Equal(t, int64(1), p.TxnID)
	assert.Nil(t, tbl.Take("a", 1))
	assert.Equal(t, 1, tbl.Len())

	drained := tbl.Drain()
	assert.Len(t, drained, 1)
	assert.Zero(t, tbl.Len())
}
