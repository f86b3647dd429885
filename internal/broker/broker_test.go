package broker

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/burningass23/kraft-broker/internal/kbin"
	"github.com/burningass23/kraft-broker/internal/klog"
	"github.com/burningass23/kraft-broker/internal/kmsg"
	"github.com/burningass23/kraft-broker/internal/metadatalog"
	"github.com/burningass23/kraft-broker/internal/record"
)

func TestTryParseFrameIncompleteThenComplete(t *testing.T) {
	full := []byte{0x00, 0x00, 0x00, 0x03, 0xAA, 0xBB, 0xCC}

	_, _, err := tryParseFrame(full[:2])
	require.ErrorIs(t, err, kbin.ErrIncomplete)

	_, _, err = tryParseFrame(full[:6])
	require.ErrorIs(t, err, kbin.ErrIncomplete)

	consumed, frame, err := tryParseFrame(full)
	require.NoError(t, err)
	require.Equal(t, len(full), consumed)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, frame)
}

func TestTryParseFrameRejectsNegativeLength(t *testing.T) {
	_, _, err := tryParseFrame([]byte{0xFF, 0xFF, 0xFF, 0xFE})
	require.Error(t, err)
	require.NotErrorIs(t, err, kbin.ErrIncomplete)
}

func buildIndex(t *testing.T) *metadatalog.Index {
	t.Helper()
	dir := t.TempDir()
	id := uuid.New()

	topicW := kbin.NewWriter()
	topicW.AppendInt8(1)
	topicW.AppendInt8(record.TypeTopic)
	topicW.AppendInt8(0)
	topicW.AppendCompactString("orders")
	topicW.AppendUUID(id)
	topicW.AppendTagBuffer()

	b := record.Batch{Magic: 2, ProducerID: -1, ProducerEpoch: -1, BaseSequence: -1,
		Records: []record.Record{{HasValue: true, Value: topicW.Bytes()}}}
	w := kbin.NewWriter()
	b.AppendTo(w)

	segDir := filepath.Join(dir, "__cluster_metadata-0")
	require.NoError(t, os.MkdirAll(segDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(segDir, "00000000000000000000.log"), w.Bytes(), 0o644))

	idx, err := metadatalog.Load(dir)
	require.NoError(t, err)
	return idx
}

// buildIndexWithPartition is like buildIndex but also registers partition
// 0 of "orders", and returns the backing directory so the caller can write
// (or omit) that partition's log segment at the path fetchPartition reads.
func buildIndexWithPartition(t *testing.T) (*metadatalog.Index, string, uuid.UUID) {
	t.Helper()
	dir := t.TempDir()
	id := uuid.New()

	topicW := kbin.NewWriter()
	topicW.AppendInt8(1)
	topicW.AppendInt8(record.TypeTopic)
	topicW.AppendInt8(0)
	topicW.AppendCompactString("orders")
	topicW.AppendUUID(id)
	topicW.AppendTagBuffer()

	partW := kbin.NewWriter()
	partW.AppendInt8(1)
	partW.AppendInt8(record.TypePartition)
	partW.AppendInt8(0)
	partW.AppendInt32(0) // partition id
	partW.AppendUUID(id)
	partW.AppendCompactArrayLen(1, true)
	partW.AppendInt32(1) // replicas
	partW.AppendCompactArrayLen(1, true)
	partW.AppendInt32(1) // ISR
	partW.AppendCompactArrayLen(0, true)
	partW.AppendCompactArrayLen(0, true)
	partW.AppendInt32(1) // leader
	partW.AppendInt32(0) // leader epoch
	partW.AppendInt32(0) // partition epoch
	partW.AppendCompactArrayLen(0, true)
	partW.AppendTagBuffer()

	b := record.Batch{Magic: 2, ProducerID: -1, ProducerEpoch: -1, BaseSequence: -1,
		Records: []record.Record{
			{HasValue: true, Value: topicW.Bytes()},
			{HasValue: true, Value: partW.Bytes()},
		}}
	w := kbin.NewWriter()
	b.AppendTo(w)

	segDir := filepath.Join(dir, "__cluster_metadata-0")
	require.NoError(t, os.MkdirAll(segDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(segDir, "00000000000000000000.log"), w.Bytes(), 0o644))

	idx, err := metadatalog.Load(dir)
	require.NoError(t, err)
	return idx, dir, id
}

func fetchRequestBody(t *testing.T, topicID uuid.UUID, partitionIndex int32) []byte {
	t.Helper()
	w := kbin.NewWriter()
	w.AppendInt32(500) // max_wait_ms
	w.AppendInt32(1)   // min_bytes
	w.AppendInt32(1 << 20)
	w.AppendInt8(0) // isolation_level
	w.AppendInt32(0)
	w.AppendInt32(0)
	w.AppendCompactArrayLen(1, true)
	w.AppendUUID(topicID)
	w.AppendCompactArrayLen(1, true)
	w.AppendInt32(partitionIndex)
	w.AppendInt32(-1)
	w.AppendInt64(0)
	w.AppendInt32(-1)
	w.AppendInt64(0)
	w.AppendInt32(1 << 20)
	w.AppendTagBuffer()
	w.AppendTagBuffer()
	w.AppendCompactArrayLen(0, true) // forgotten_topics_data
	w.AppendCompactString("")
	w.AppendTagBuffer()
	return w.Bytes()
}

func TestHandleFetchReadsPartitionLogFromDisk(t *testing.T) {
	idx, dir, topicID := buildIndexWithPartition(t)

	want := record.Batch{Magic: 2, ProducerID: -1, ProducerEpoch: -1, BaseSequence: -1,
		Records: []record.Record{{HasValue: true, Value: []byte("hello")}}}
	segW := kbin.NewWriter()
	want.AppendTo(segW)

	partDir := filepath.Join(dir, "orders-0")
	require.NoError(t, os.MkdirAll(partDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partDir, "00000000000000000000.log"), segW.Bytes(), 0o644))

	c := newConn(nil, klog.Nop(), nil, idx)
	h := kmsg.RequestHeader{APIKey: kmsg.APIKeyFetch, APIVersion: 16, CorrelationID: 1}

	body, errCode, err := c.handleRequest(h, fetchRequestBody(t, topicID, 0))
	require.NoError(t, err)
	require.Equal(t, kmsg.ErrNone, errCode)

	r := kbin.NewReader(body)
	resp, err := readFetchResponseForTest(r)
	require.NoError(t, err)
	require.Len(t, resp.Responses, 1)
	require.Len(t, resp.Responses[0].Partitions, 1)
	p := resp.Responses[0].Partitions[0]
	require.Equal(t, kmsg.ErrNone, p.ErrorCode)
	require.Equal(t, segW.Bytes(), p.Records)
}

func TestHandleFetchMissingPartitionLogIsGraceful(t *testing.T) {
	idx, _, topicID := buildIndexWithPartition(t)

	c := newConn(nil, klog.Nop(), nil, idx)
	h := kmsg.RequestHeader{APIKey: kmsg.APIKeyFetch, APIVersion: 16, CorrelationID: 1}

	body, errCode, err := c.handleRequest(h, fetchRequestBody(t, topicID, 0))
	require.NoError(t, err)
	require.Equal(t, kmsg.ErrNone, errCode)

	r := kbin.NewReader(body)
	resp, err := readFetchResponseForTest(r)
	require.NoError(t, err)
	require.Len(t, resp.Responses, 1)
	require.Len(t, resp.Responses[0].Partitions, 1)
	p := resp.Responses[0].Partitions[0]
	require.Equal(t, kmsg.ErrUnknownTopicOrPartition, p.ErrorCode)
	require.Nil(t, p.Records)
}

// readFetchResponseForTest decodes just enough of a FetchResponse to assert
// on in tests; it mirrors kmsg.FetchResponse's wire layout without exposing
// a production decoder the server itself never needs (Fetch responses are
// only ever encoded, not decoded, by this broker).
func readFetchResponseForTest(r *kbin.Reader) (kmsg.FetchResponse, error) {
	var resp kmsg.FetchResponse
	resp.ThrottleTimeMs = r.Int32()
	resp.ErrorCode = r.Int16()
	resp.SessionID = r.Int32()
	if n, ok := r.CompactArrayLen(); ok {
		resp.Responses = make([]kmsg.FetchTopicResponse, n)
		for i := range resp.Responses {
			t := &resp.Responses[i]
			t.TopicID = r.UUID()
			if pn, ok := r.CompactArrayLen(); ok {
				t.Partitions = make([]kmsg.FetchPartitionResponse, pn)
				for j := range t.Partitions {
					p := &t.Partitions[j]
					p.PartitionIndex = r.Int32()
					p.ErrorCode = r.Int16()
					p.HighWatermark = r.Int64()
					p.LastStableOffset = r.Int64()
					p.LogStartOffset = r.Int64()
					r.CompactArrayLen() // aborted_transactions, always empty
					p.PreferredReadReplica = r.Int32()
					p.Records, _ = r.CompactNullableBytes()
					r.TagBuffer()
				}
			}
			r.TagBuffer()
		}
	}
	r.TagBuffer()
	if r.Err() != nil {
		return kmsg.FetchResponse{}, r.Err()
	}
	return resp, nil
}

func TestHandleApiVersionsRequest(t *testing.T) {
	c := newConn(nil, klog.Nop(), nil, buildIndex(t))
	h := kmsg.RequestHeader{APIKey: kmsg.APIKeyApiVersions, APIVersion: 3, CorrelationID: 7}

	reqW := kbin.NewWriter()
	reqW.AppendCompactString("kcat")
	reqW.AppendCompactString("1.0")
	reqW.AppendTagBuffer()

	body, errCode, err := c.handleRequest(h, reqW.Bytes())
	require.NoError(t, err)
	require.Equal(t, kmsg.ErrNone, errCode)
	require.NotEmpty(t, body)
}

func TestHandleDescribeTopicPartitionsUnknownTopic(t *testing.T) {
	c := newConn(nil, klog.Nop(), nil, buildIndex(t))
	h := kmsg.RequestHeader{APIKey: kmsg.APIKeyDescribeTopicPartitions, APIVersion: 0, CorrelationID: 1}

	reqW := kbin.NewWriter()
	reqW.AppendCompactArrayLen(1, true)
	reqW.AppendCompactString("missing-topic")
	reqW.AppendTagBuffer()
	reqW.AppendInt32(10)
	kmsg.AppendCursor(reqW, kmsg.Cursor{}, false)
	reqW.AppendTagBuffer()

	body, errCode, err := c.handleRequest(h, reqW.Bytes())
	require.NoError(t, err)
	require.Equal(t, kmsg.ErrUnknownTopicOrPartition, errCode)
	require.NotEmpty(t, body)
}

func TestHandleDescribeTopicPartitionsKnownTopic(t *testing.T) {
	c := newConn(nil, klog.Nop(), nil, buildIndex(t))
	h := kmsg.RequestHeader{APIKey: kmsg.APIKeyDescribeTopicPartitions, APIVersion: 0, CorrelationID: 1}

	reqW := kbin.NewWriter()
	reqW.AppendCompactArrayLen(1, true)
	reqW.AppendCompactString("orders")
	reqW.AppendTagBuffer()
	reqW.AppendInt32(10)
	kmsg.AppendCursor(reqW, kmsg.Cursor{}, false)
	reqW.AppendTagBuffer()

	body, errCode, err := c.handleRequest(h, reqW.Bytes())
	require.NoError(t, err)
	require.Equal(t, kmsg.ErrNone, errCode)
	require.NotEmpty(t, body)
}

func TestServeEndToEndOverNetPipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	c := newConn(serverConn, klog.Nop(), nil, buildIndex(t))
	go c.serve()

	reqBody := kbin.NewWriter()
	reqBody.AppendCompactString("kcat")
	reqBody.AppendCompactString("1.0")
	reqBody.AppendTagBuffer()

	header := kbin.NewWriter()
	header.AppendInt16(kmsg.APIKeyApiVersions)
	header.AppendInt16(3)
	header.AppendInt32(42)
	header.AppendNullableString("kcat", true)
	header.AppendTagBuffer()
	header.AppendRaw(reqBody.Bytes())

	frame := kbin.NewWriter()
	frame.AppendInt32(int32(header.Len()))
	frame.AppendRaw(header.Bytes())

	go func() {
		clientConn.Write(frame.Bytes())
	}()

	lenBuf := make([]byte, 4)
	_, err := readFull(clientConn, lenBuf)
	require.NoError(t, err)
	r := kbin.NewReader(lenBuf)
	respLen := r.Int32()

	respBuf := make([]byte, respLen)
	_, err = readFull(clientConn, respBuf)
	require.NoError(t, err)

	respR := kbin.NewReader(respBuf)
	correlationID := respR.Int32()
	require.Equal(t, int32(42), correlationID)
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
