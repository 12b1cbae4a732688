package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// metadataRow fills only the metadata column of a transaction scan.
type metadataRow struct {
	metadata []byte
}

func (r metadataRow) Scan(dest ...any) error {
	*(dest[11].(*[]byte)) = r.metadata
	return nil
}

func TestScanTransactionDecodesMetadata(t *testing.T) {
	tx, err := scanTransaction(metadataRow{metadata: []byte(`{"source":"subscription"}`)})
	require.NoError(t, err)
	assert.Equal(t, "subscription", tx.Metadata["source"])

	tx, err = scanTransaction(metadataRow{})
	require.NoError(t, err)
	assert.Nil(t, tx.Metadata)
}

func TestScanTransactionRejectsCorruptMetadata(t *testing.T) {
	_, err := scanTransaction(metadataRow{metadata: []byte(`{"source":`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode metadata")
}
