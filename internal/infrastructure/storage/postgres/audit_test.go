package postgres

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitAudit_CompressesLargePayloads(t *testing.T) {
	a, err := NewCommitAudit(nil, 64)
	require.NoError(t, err)

	payload := []byte(`{"items":"` + string(bytes.Repeat([]byte("x"), 512)) + `"}`)
	entry := CommitAuditEntry{Payload: payload}

	a.compress(&entry)

	assert.Equal(t, CompressionZstd, entry.CompressionAlgo)
	assert.Nil(t, entry.Payload)
	assert.Less(t, len(entry.PayloadCompressed), len(payload))

	require.NoError(t, a.decompress(&entry))
	assert.Equal(t, payload, []byte(entry.Payload))
	assert.Nil(t, entry.PayloadCompressed)
}

func TestCommitAudit_SmallPayloadsStayPlain(t *testing.T) {
	a, err := NewCommitAudit(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCompressThreshold, a.compressThreshold)

	entry := CommitAuditEntry{Payload: []byte(`{"ok":true}`)}
	a.compress(&entry)

	assert.Equal(t, CompressionNone, entry.CompressionAlgo)
	assert.JSONEq(t, `{"ok":true}`, string(entry.Payload))
	require.NoError(t, a.decompress(&entry))
	assert.JSONEq(t, `{"ok":true}`, string(entry.Payload))
}

func TestCommitAudit_CorruptPayloadFails(t *testing.T) {
	a, err := NewCommitAudit(nil, 0)
	require.NoError(t, err)

	entry := CommitAuditEntry{CompressionAlgo: CompressionZstd, PayloadCompressed: []byte("not zstd")}

	assert.Error(t, a.decompress(&entry))
}
