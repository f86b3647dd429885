package record_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/burningass23/kraft-broker/internal/kbin"
	"github.com/burningass23/kraft-broker/internal/record"
)

func TestBatchRoundTrip(t *testing.T) {
	b := record.Batch{
		BaseOffset:           0,
		PartitionLeaderEpoch: 1,
		Magic:                2,
		Attributes:           0,
		LastOffsetDelta:      0,
		BaseTimestamp:        1000,
		MaxTimestamp:         1000,
		ProducerID:           -1,
		ProducerEpoch:        -1,
		BaseSequence:         -1,
		Records: []record.Record{
			{
				Attributes: 0,
				HasKey:     false,
				HasValue:   true,
				Value:      []byte("hello"),
			},
		},
	}

	w := kbin.NewWriter()
	b.AppendTo(w)

	decoded, err := record.ReadBatches(w.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, b.BaseOffset, decoded[0].BaseOffset)
	require.Len(t, decoded[0].Records, 1)
	require.True(t, decoded[0].Records[0].HasValue)
	require.Equal(t, []byte("hello"), decoded[0].Records[0].Value)
}

func TestReadBatchesRejectsTruncatedTrailingBatch(t *testing.T) {
	b := record.Batch{Magic: 2, ProducerID: -1, ProducerEpoch: -1, BaseSequence: -1}
	w := kbin.NewWriter()
	b.AppendTo(w)

	truncated := w.Bytes()[:len(w.Bytes())-3]
	_, err := record.ReadBatches(truncated)
	require.Error(t, err)
}

func TestDecodeValueTopicRecord(t *testing.T) {
	id := uuid.New()
	w := kbin.NewWriter()
	w.AppendInt8(1) // frame version
	w.AppendInt8(record.TypeTopic)
	w.AppendInt8(0) // version
	w.AppendCompactString("orders")
	w.AppendUUID(id)
	w.AppendTagBuffer()

	v, err := record.DecodeValue(w.Bytes())
	require.NoError(t, err)
	require.NotNil(t, v.Topic)
	require.Equal(t, "orders", v.Topic.Name)
	require.Equal(t, id, v.Topic.ID)
}

func TestDecodeValueUnknownTypeIsOpaque(t *testing.T) {
	w := kbin.NewWriter()
	w.AppendInt8(1)
	w.AppendInt8(99)
	w.AppendInt8(0)
	w.AppendRaw([]byte{1, 2, 3, 4})

	v, err := record.DecodeValue(w.Bytes())
	require.NoError(t, err)
	require.Nil(t, v.Topic)
	require.Nil(t, v.Partition)
	require.Nil(t, v.FeatureLevel)
	require.Equal(t, []byte{1, 2, 3, 4}, v.Opaque)
}
