package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/sensor-gateway/internal/reading"
)

func sample(ph float64) reading.Reading {
	return reading.New("sensor_data",
		map[string]float64{"pH": ph},
		map[string]string{"source": "feathersense"},
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func collect(t *testing.T, w *FileWAL, from EntryID) ([]EntryID, []float64) {
	t.Helper()
	var ids []EntryID
	var vals []float64
	require.NoError(t, w.Iterate(from, func(id EntryID, r reading.Reading) error {
		ids = append(ids, id)
		v, _ := r.Field("pH")
		vals = append(vals, v)
		return nil
	}))
	return ids, vals
}

func TestAppendIterateAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, 0)
	require.NoError(t, err)

	id1, err := w.Append(sample(6.8))
	require.NoError(t, err)
	id2, err := w.Append(sample(7.0))
	require.NoError(t, err)
	assert.Equal(t, EntryID(1), id1)
	assert.Equal(t, EntryID(2), id2)

	ids, vals := collect(t, w, 1)
	assert.Equal(t, []EntryID{1, 2}, ids)
	assert.Equal(t, []float64{6.8, 7.0}, vals)

	require.NoError(t, w.Commit(id1))
	require.NoError(t, w.Close())

	// Reopen and ensure committed metadata was persisted.
	w2, err := Open(dir, 0)
	require.NoError(t, err)
	defer w2.Close()

	stats := w2.Stats()
	assert.Equal(t, id2, stats.LatestAppended)
	assert.Equal(t, id2, stats.OldestUncommitted)
	assert.Equal(t, uint64(1), stats.Pending)

	ids, _ = collect(t, w2, stats.OldestUncommitted)
	assert.Equal(t, []EntryID{2}, ids)
}

func TestReadingRoundTrip(t *testing.T) {
	w, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer w.Close()

	in := sample(6.8)
	_, err = w.Append(in)
	require.NoError(t, err)

	var out reading.Reading
	require.NoError(t, w.Iterate(1, func(_ EntryID, r reading.Reading) error {
		out = r
		return nil
	}))
	assert.Equal(t, in.Measurement(), out.Measurement())
	assert.Equal(t, in.Fields(), out.Fields())
	assert.Equal(t, in.Tags(), out.Tags())
	assert.True(t, in.Time().Equal(out.Time()))
}

func TestTornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	require.NoError(t, err)
	_, err = w.Append(sample(6.8))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(filepath.Join(dir, "wal.log"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 50, '{'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(dir, 0)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, EntryID(1), w2.Stats().LatestAppended)
	id, err := w2.Append(sample(7.1))
	require.NoError(t, err)
	assert.Equal(t, EntryID(2), id)

	ids, vals := collect(t, w2, 1)
	assert.Equal(t, []EntryID{1, 2}, ids)
	assert.Equal(t, []float64{6.8, 7.1}, vals)
}

func TestTruncateCommitted(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0)
	require.NoError(t, err)
	defer w.Close()

	for _, v := range []float64{1, 2, 3} {
		_, err := w.Append(sample(v))
		require.NoError(t, err)
	}
	before := w.Stats().SizeBytes
	require.NoError(t, w.Commit(2))
	require.NoError(t, w.TruncateCommitted())

	stats := w.Stats()
	assert.Less(t, stats.SizeBytes, before)
	assert.Equal(t, EntryID(3), stats.LatestAppended)

	ids, vals := collect(t, w, 0)
	assert.Equal(t, []EntryID{3}, ids)
	assert.Equal(t, []float64{3}, vals)

	// Appends continue after the rewrite.
	id, err := w.Append(sample(4))
	require.NoError(t, err)
	assert.Equal(t, EntryID(4), id)
	ids, _ = collect(t, w, 0)
	assert.Equal(t, []EntryID{3, 4}, ids)

	require.NoError(t, w.Flush())
	fi, err := os.Stat(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	assert.Equal(t, w.Stats().SizeBytes, fi.Size())
}

func TestAppendRespectsMaxBytes(t *testing.T) {
	w, err := Open(t.TempDir(), 200)
	require.NoError(t, err)
	defer w.Close()

	var appended int
	for i := 0; i < 10; i++ {
		if _, err := w.Append(sample(float64(i))); err != nil {
			assert.ErrorIs(t, err, ErrFull)
			break
		}
		appended++
	}
	assert.Equal(t, 1, appended)
	assert.LessOrEqual(t, w.Stats().SizeBytes, int64(200))
}

func TestCommitNeverMovesBackwards(t *testing.T) {
	w, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		_, err := w.Append(sample(float64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit(3))
	require.NoError(t, w.Commit(1))
	assert.Equal(t, EntryID(4), w.Stats().OldestUncommitted)
	assert.Zero(t, w.Stats().Pending)
}
