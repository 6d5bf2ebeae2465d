package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbsim/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(logging.LevelError, "", 0, 0)
	require.NoError(t, err)
	return log
}

type fakeDB struct {
	values map[int]int
	flushed bool
}

func newFakeDB() *fakeDB { return &fakeDB{values: make(map[int]int)} }

func (f *fakeDB) Update(dataID, newValue int) bool {
	f.values[dataID] = newValue
	return true
}

func (f *fakeDB) Flush() error {
	f.flushed = true
	return nil
}

func TestWriteAndReadAll(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "log.csv"), 100, nil, testLogger(t))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Write(StartRecord(1)))
	require.NoError(t, m.Write(WriteRecord(1, 0, 0, 1)))
	require.NoError(t, m.Write(CommitRecord(1)))

	records, err := m.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, TagCommit, records[2].Tag)
}

func TestReadAllMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.csv")

	m, err := New(path, 100, nil, testLogger(t))
	require.NoError(t, err)
	m.Close()

	m2, err := New(path, 100, nil, testLogger(t))
	require.NoError(t, err)
	defer m2.Close()
	require.NoError(t, os.Remove(path))

	records, err := m2.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecoverReplaysOnlyCommittedWrites(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "log.csv"), 100, nil, testLogger(t))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Write(StartRecord(1)))
	require.NoError(t, m.Write(WriteRecord(1, 0, 0, 1)))
	require.NoError(t, m.Write(CommitRecord(1)))

	require.NoError(t, m.Write(StartRecord(2)))
	require.NoError(t, m.Write(WriteRecord(2, 1, 0, 1)))
	require.NoError(t, m.Write(RollbackRecord(2)))

	db := newFakeDB()
	require.NoError(t, m.Recover(db))

	assert.Equal(t, 1, db.values[0])
	_, rolledBackWriteApplied := db.values[1]
	assert.False(t, rolledBackWriteApplied)
	assert.True(t, db.flushed)
}

func TestFlushLogsResetsWriteCount(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "log.csv"), 100, nil, testLogger(t))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Write(StartRecord(1)))
	assert.Equal(t, 1, m.WriteCount())
	require.NoError(t, m.FlushLogs())
	assert.Equal(t, 0, m.WriteCount())
}

func TestWriteAutoFlushesAtThreshold(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "log.csv"), 2, nil, testLogger(t))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Write(StartRecord(1)))
	assert.Equal(t, 1, m.WriteCount())
	require.NoError(t, m.Write(CommitRecord(1)))
	assert.Equal(t, 0, m.WriteCount())
}

func TestMalformedLinesAreSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.csv")
	m, err := New(path, 100, nil, testLogger(t))
	require.NoError(t, err)

	require.NoError(t, m.Write(StartRecord(1)))
	_, writeErr := m.file.WriteString("not,a,valid,record,at,all,extra\n")
	require.NoError(t, writeErr)
	require.NoError(t, m.FlushLogs())
	m.Close()

	m2, err := New(path, 100, nil, testLogger(t))
	require.NoError(t, err)
	defer m2.Close()

	records, err := m2.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
