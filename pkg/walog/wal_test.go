package walog

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorPayload(vec []float32) []byte {
	buf := make([]byte, 0, len(vec)*4)
	for _, f := range vec {
		var tmp [4]byte
		bits := math.Float32bits(f)
		tmp[0] = byte(bits)
		tmp[1] = byte(bits >> 8)
		tmp[2] = byte(bits >> 16)
		tmp[3] = byte(bits >> 24)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func TestAppendReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(NewRecord(KindInsertVector, 0, vectorPayload([]float32{1, 2}))))
	require.NoError(t, w.Append(NewRecord(KindDelete, 0, nil)))
	require.NoError(t, w.Close())

	var got []Record
	require.NoError(t, Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	}))

	require.Len(t, got, 2)
	assert.Equal(t, KindInsertVector, got[0].Kind)
	assert.Equal(t, uint64(0), got[0].RowIndex)
	assert.Equal(t, KindDelete, got[1].Kind)
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.wal")
	err := Replay(path, func(Record) error { return nil })
	assert.NoError(t, err)
}

func TestReplayStopsAtTornTailWithoutFailing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(KindInsertVector, 1, vectorPayload([]float32{3, 4}))))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3}) // truncated header: no CRC, no full payload
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []Record
	err = Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 1, "the torn trailing record must be discarded, not surfaced or fatal")
}

func TestReplayStopsOnFnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "err.wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(KindInsertVector, 0, nil)))
	require.NoError(t, w.Append(NewRecord(KindInsertVector, 1, nil)))
	require.NoError(t, w.Close())

	sentinel := assert.AnError
	count := 0
	err = Replay(path, func(Record) error {
		count++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, count)
}

func TestResetTruncatesLogForSubsequentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(KindInsertVector, 0, vectorPayload([]float32{1}))))
	require.NoError(t, w.Reset())
	require.NoError(t, w.Append(NewRecord(KindInsertVector, 5, vectorPayload([]float32{9}))))
	require.NoError(t, w.Close())

	var got []Record
	require.NoError(t, Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1, "records written before Reset must not survive it")
	assert.Equal(t, uint64(5), got[0].RowIndex)
}
