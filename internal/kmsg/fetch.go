package kmsg

import (
	"github.com/google/uuid"

	"github.com/burningass23/kraft-broker/internal/kbin"
)

// MaxFetchVersion is the highest Fetch request version this server
// understands.
const MaxFetchVersion int16 = 16

// FetchRequest is the body of a Fetch request, version 16.
type FetchRequest struct {
	MaxWaitMs       int32
	MinBytes        int32
	MaxBytes        int32
	IsolationLevel  int8
	SessionID       int32
	SessionEpoch    int32
	Topics          []FetchTopicRequest
	ForgottenTopics []ForgottenTopic
	RackID          string
}

// FetchTopicRequest asks for records from one topic's partitions.
type FetchTopicRequest struct {
	TopicID    uuid.UUID
	Partitions []FetchPartitionRequest
}

// FetchPartitionRequest asks for records from one partition.
type FetchPartitionRequest struct {
	PartitionIndex     int32
	CurrentLeaderEpoch int32
	FetchOffset        int64
	LastFetchedEpoch   int32
	LogStartOffset     int64
	PartitionMaxBytes  int32
}

// ForgottenTopic names partitions a follower truncated and no longer
// expects data for. This server has no incremental-fetch session state, so
// the field is decoded for wire compatibility and otherwise unused.
type ForgottenTopic struct {
	TopicID    uuid.UUID
	Partitions []int32
}

// ReadFetchRequest decodes a Fetch request body in its version 16
// (flexible, topic-id-addressed) layout, the only version this server's
// handler serves; earlier versions are accepted on the wire since
// ApiVersions advertises support for them, but the handler rejects them
// with ErrUnsupportedVersion before the body would ever need decoding
// differently.
func ReadFetchRequest(r *kbin.Reader) (FetchRequest, error) {
	var req FetchRequest
	req.MaxWaitMs = r.Int32()
	req.MinBytes = r.Int32()
	req.MaxBytes = r.Int32()
	req.IsolationLevel = r.Int8()
	req.SessionID = r.Int32()
	req.SessionEpoch = r.Int32()

	if n, ok := r.CompactArrayLen(); ok {
		req.Topics = make([]FetchTopicRequest, n)
		for i := range req.Topics {
			t := &req.Topics[i]
			t.TopicID = r.UUID()
			if pn, ok := r.CompactArrayLen(); ok {
				t.Partitions = make([]FetchPartitionRequest, pn)
				for j := range t.Partitions {
					p := &t.Partitions[j]
					p.PartitionIndex = r.Int32()
					p.CurrentLeaderEpoch = r.Int32()
					p.FetchOffset = r.Int64()
					p.LastFetchedEpoch = r.Int32()
					p.LogStartOffset = r.Int64()
					p.PartitionMaxBytes = r.Int32()
					r.TagBuffer()
				}
			}
			r.TagBuffer()
		}
	}

	if n, ok := r.CompactArrayLen(); ok {
		req.ForgottenTopics = make([]ForgottenTopic, n)
		for i := range req.ForgottenTopics {
			f := &req.ForgottenTopics[i]
			f.TopicID = r.UUID()
			if pn, ok := r.CompactArrayLen(); ok {
				f.Partitions = make([]int32, pn)
				for j := range f.Partitions {
					f.Partitions[j] = r.Int32()
				}
			}
			r.TagBuffer()
		}
	}

	req.RackID = r.CompactString()
	r.TagBuffer()

	if r.Err() != nil {
		return FetchRequest{}, r.Err()
	}
	return req, nil
}

// FetchResponse is the body of a Fetch response, version 16.
type FetchResponse struct {
	ThrottleTimeMs int32
	ErrorCode      int16
	SessionID      int32
	Responses      []FetchTopicResponse
}

// FetchTopicResponse carries the fetch result for every requested
// partition of one topic.
type FetchTopicResponse struct {
	TopicID    uuid.UUID
	Partitions []FetchPartitionResponse
}

// FetchPartitionResponse is the fetch result for one partition. Records is
// the partition's log segment file, read whole from disk and passed through
// as raw record-batch bytes — this server never decodes or re-encodes the
// batches it serves.
type FetchPartitionResponse struct {
	PartitionIndex       int32
	ErrorCode            int16
	HighWatermark        int64
	LastStableOffset     int64
	LogStartOffset       int64
	PreferredReadReplica int32
	Records              []byte
}

func (p FetchPartitionResponse) appendTo(w *kbin.Writer) {
	w.AppendInt32(p.PartitionIndex)
	w.AppendInt16(p.ErrorCode)
	w.AppendInt64(p.HighWatermark)
	w.AppendInt64(p.LastStableOffset)
	w.AppendInt64(p.LogStartOffset)
	w.AppendCompactArrayLen(0, true) // aborted_transactions: none, no transactional producers
	w.AppendInt32(p.PreferredReadReplica)
	w.AppendCompactNullableBytes(p.Records, p.Records != nil)
	w.AppendTagBuffer()
}

func (t FetchTopicResponse) appendTo(w *kbin.Writer) {
	w.AppendUUID(t.TopicID)
	w.AppendCompactArrayLen(len(t.Partitions), true)
	for _, p := range t.Partitions {
		p.appendTo(w)
	}
	w.AppendTagBuffer()
}

// AppendTo encodes the response body.
func (resp FetchResponse) AppendTo(w *kbin.Writer) {
	w.AppendInt32(resp.ThrottleTimeMs)
	w.AppendInt16(resp.ErrorCode)
	w.AppendInt32(resp.SessionID)
	w.AppendCompactArrayLen(len(resp.Responses), true)
	for _, t := range resp.Responses {
		t.appendTo(w)
	}
	w.AppendTagBuffer()
}
