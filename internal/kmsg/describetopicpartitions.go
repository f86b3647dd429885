package kmsg

import (
	"github.com/google/uuid"

	"github.com/burningass23/kraft-broker/internal/kbin"
)

// DefaultTopicAuthorizedOperations is the bitmask this server reports for
// every topic's authorized_operations field: every operation this server
// has no authorization model for is reported as allowed, matching the
// original implementation's default (READ|WRITE|CREATE|DELETE|ALTER|
// DESCRIBE|DESCRIBE_CONFIGS|ALTER_CONFIGS bits set).
const DefaultTopicAuthorizedOperations int32 = 0x0000_0df8

// TopicRequest names one topic a DescribeTopicPartitions request asks
// about.
type TopicRequest struct {
	Name string
}

// Cursor is the pagination cursor threaded through DescribeTopicPartitions
// request and response. Unlike every other nullable field in this
// protocol, Kafka encodes an absent cursor with a single 0xFF sentinel
// byte instead of the usual compact-nullable-object convention — callers
// must check this byte before attempting to decode a present cursor.
type Cursor struct {
	TopicName      string
	PartitionIndex int32
}

// ReadCursor decodes a nullable Cursor, honoring the 0xFF-means-absent
// convention: peek the leading byte before committing to either decode
// path, since 0xFF is not a valid leading byte of a compact-string length
// varint that this protocol ever produces for a real cursor.
func ReadCursor(r *kbin.Reader) (c Cursor, ok bool) {
	if b, present := r.PeekInt8(); present && uint8(b) == 0xFF {
		r.Int8()
		return Cursor{}, false
	}
	c.TopicName = r.CompactString()
	c.PartitionIndex = r.Int32()
	r.TagBuffer()
	if r.Err() != nil {
		return Cursor{}, false
	}
	return c, true
}

// AppendCursor encodes a nullable Cursor using the same 0xFF sentinel.
func AppendCursor(w *kbin.Writer, c Cursor, ok bool) {
	if !ok {
		w.AppendInt8(-1) // 0xFF
		return
	}
	w.AppendCompactString(c.TopicName)
	w.AppendInt32(c.PartitionIndex)
	w.AppendTagBuffer()
}

// DescribeTopicPartitionsRequest is the body of a DescribeTopicPartitions
// request (version 0 only, the only version this server or any current
// Kafka client generation speaks).
type DescribeTopicPartitionsRequest struct {
	Topics               []TopicRequest
	ResponsePartitionLimit int32
	Cursor               Cursor
	HasCursor            bool
}

// ReadDescribeTopicPartitionsRequest decodes the request body.
func ReadDescribeTopicPartitionsRequest(r *kbin.Reader) (DescribeTopicPartitionsRequest, error) {
	var req DescribeTopicPartitionsRequest
	if n, ok := r.CompactArrayLen(); ok {
		req.Topics = make([]TopicRequest, n)
		for i := range req.Topics {
			req.Topics[i].Name = r.CompactString()
			r.TagBuffer()
		}
	}
	req.ResponsePartitionLimit = r.Int32()
	req.Cursor, req.HasCursor = ReadCursor(r)
	r.TagBuffer()
	if r.Err() != nil {
		return DescribeTopicPartitionsRequest{}, r.Err()
	}
	return req, nil
}

// PartitionResponse describes one partition in a DescribeTopicPartitions
// response. This server has no replica-state tracking, so Leader/Replicas/
// ISR are sourced directly from the metadata log's PartitionRecord for this
// partition and never recomputed. Each PartitionRecord in the log yields its
// own entry; a later record for the same partition does not replace an
// earlier one.
type PartitionResponse struct {
	ErrorCode       int16
	PartitionIndex  int32
	LeaderID        int32
	LeaderEpoch     int32
	Replicas        []int32
	ISR             []int32
	EligibleLeaderReplicas []int32
	LastKnownELR    []int32
	OfflineReplicas []int32
}

func (p PartitionResponse) appendTo(w *kbin.Writer) {
	w.AppendInt16(p.ErrorCode)
	w.AppendInt32(p.PartitionIndex)
	w.AppendInt32(p.LeaderID)
	w.AppendInt32(p.LeaderEpoch)
	appendInt32CompactArray(w, p.Replicas)
	appendInt32CompactArray(w, p.ISR)
	appendInt32CompactArray(w, p.EligibleLeaderReplicas)
	appendInt32CompactArray(w, p.LastKnownELR)
	appendInt32CompactArray(w, p.OfflineReplicas)
	w.AppendTagBuffer()
}

func appendInt32CompactArray(w *kbin.Writer, vs []int32) {
	w.AppendCompactArrayLen(len(vs), true)
	for _, v := range vs {
		w.AppendInt32(v)
	}
}

// TopicResponse describes one topic in a DescribeTopicPartitions response.
type TopicResponse struct {
	ErrorCode              int16
	Name                   string
	HasName                bool
	TopicID                uuid.UUID
	IsInternal             bool
	Partitions             []PartitionResponse
	TopicAuthorizedOperations int32
}

func (t TopicResponse) appendTo(w *kbin.Writer) {
	w.AppendInt16(t.ErrorCode)
	w.AppendCompactNullableString(t.Name, t.HasName)
	w.AppendUUID(t.TopicID)
	w.AppendBool(t.IsInternal)
	w.AppendCompactArrayLen(len(t.Partitions), true)
	for _, p := range t.Partitions {
		p.appendTo(w)
	}
	w.AppendInt32(t.TopicAuthorizedOperations)
	w.AppendTagBuffer()
}

// UnknownTopicResponse builds the TopicResponse for a topic name this
// server has no record of: an UNKNOWN_TOPIC_OR_PARTITION error, a nil
// topic id, and an empty partitions list.
func UnknownTopicResponse(name string) TopicResponse {
	return TopicResponse{
		ErrorCode:                 ErrUnknownTopicOrPartition,
		Name:                      name,
		HasName:                   true,
		TopicID:                   uuid.Nil,
		TopicAuthorizedOperations: DefaultTopicAuthorizedOperations,
	}
}

// DescribeTopicPartitionsResponse is the body of a DescribeTopicPartitions
// response.
type DescribeTopicPartitionsResponse struct {
	ThrottleTimeMs int32
	Topics         []TopicResponse
	NextCursor     Cursor
	HasNextCursor  bool
}

// AppendTo encodes the response body.
func (resp DescribeTopicPartitionsResponse) AppendTo(w *kbin.Writer) {
	w.AppendInt32(resp.ThrottleTimeMs)
	w.AppendCompactArrayLen(len(resp.Topics), true)
	for _, t := range resp.Topics {
		t.appendTo(w)
	}
	AppendCursor(w, resp.NextCursor, resp.HasNextCursor)
	w.AppendTagBuffer()
}
