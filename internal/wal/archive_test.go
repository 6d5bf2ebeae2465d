package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiverDisabledIsNil(t *testing.T) {
	a, err := NewArchiver(filepath.Join(t.TempDir(), "log.csv"), "lz4", false)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestArchiverRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewArchiver(filepath.Join(t.TempDir(), "log.csv"), "bogus", true)
	assert.Error(t, err)
}

func TestArchiveAndReadBackRoundTrip(t *testing.T) {
	for _, algo := range []string{"lz4", "snappy", "zstd"} {
		t.Run(algo, func(t *testing.T) {
			dir := t.TempDir()
			logPath := filepath.Join(dir, "log.csv")

			log := testLogger(t)
			m, err := New(logPath, 100, nil, log)
			require.NoError(t, err)
			require.NoError(t, m.Write(StartRecord(1)))
			require.NoError(t, m.Write(WriteRecord(1, 0, 0, 1)))
			require.NoError(t, m.Close())

			a, err := NewArchiver(logPath, algo, true)
			require.NoError(t, err)
			require.NotNil(t, a)

			require.NoError(t, a.Archive(logPath))

			records, err := a.ReadArchivedRecords()
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, TagStart, records[0].Tag)
			assert.Equal(t, TagWrite, records[1].Tag)
		})
	}
}

func TestRotateKeepsLogicalOrderAcrossSegments(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.csv")

	a, err := NewArchiver(logPath, "lz4", true)
	require.NoError(t, err)

	m, err := New(logPath, 100, a, testLogger(t))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Write(StartRecord(1)))
	require.NoError(t, m.Rotate())
	require.NoError(t, m.Write(CommitRecord(1)))

	records, err := m.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, TagStart, records[0].Tag)
	assert.Equal(t, TagCommit, records[1].Tag)
}
