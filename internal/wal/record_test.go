package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeRoundTrip(t *testing.T) {
	cases := []Record{
		StartRecord(1),
		WriteRecord(1, 5, 0, 1),
		RollbackRecord(1),
		CommitRecord(1),
	}

	for _, rec := range cases {
		line := rec.Serialize()
		parsed, err := ParseRecord(line)
		assert.NoError(t, err)
		assert.Equal(t, rec, parsed)
	}
}

func TestSerializeFormat(t *testing.T) {
	assert.Equal(t, "7,S", StartRecord(7).Serialize())
	assert.Equal(t, "7,F,3,0,1", WriteRecord(7, 3, 0, 1).Serialize())
	assert.Equal(t, "7,R", RollbackRecord(7).Serialize())
	assert.Equal(t, "7,C", CommitRecord(7).Serialize())
}

func TestParseRecordRejectsTooFewFields(t *testing.T) {
	_, err := ParseRecord("7")
	assert.Error(t, err)
}

func TestParseRecordRejectsBadTxnID(t *testing.T) {
	_, err := ParseRecord("abc,S")
	assert.Error(t, err)
}

func TestParseRecordRejectsWrongFieldCountForTag(t *testing.T) {
	_, err := ParseRecord("1,S,2")
	assert.Error(t, err)

	_, err = ParseRecord("1,F,2,3")
	assert.Error(t, err)
}

func TestParseRecordRejectsUnknownTag(t *testing.T) {
	_, err := ParseRecord("1,Z")
	assert.Error(t, err)
}

func TestParseRecordRejectsNonIntegerWriteFields(t *testing.T) {
	_, err := ParseRecord("1,F,x,0,1")
	assert.Error(t, err)
}
