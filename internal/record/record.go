// Package record decodes and re-encodes Kafka record batches: the
// length-prefixed, CRC-guarded envelope that both the KRaft controller's
// metadata log and any user-topic partition log are built from, and the
// variable-length records packed inside each batch.
//
// Batch CRCs are read but never verified (the controller log and partition
// segments this server reads are trusted local files, and spec scope
// explicitly excludes CRC validation). The CRC read is kept in Batch.CRC;
// AppendTo computes a fresh CRC for the batch it writes, and Batch.Raw keeps
// the exact bytes a decoded batch came from.
package record

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/burningass23/kraft-broker/internal/kbin"
)

var crc32c = crc32.MakeTable(crc32.Castagnoli)

// batchPrefixLen is the number of bytes before a batch's partition leader
// epoch: the base offset and the batch length, which counts every byte of
// the batch after itself.
const batchPrefixLen = 12 // base_offset(8) + batch_length(4)

// Batch is one Kafka record batch (the "RecordBatch" v2 envelope): a
// length-prefixed, CRC-guarded run of Records sharing one base offset and
// timestamp.
type Batch struct {
	BaseOffset           int64
	PartitionLeaderEpoch int32
	Magic                int8
	CRC                  uint32
	Attributes           int16
	LastOffsetDelta      int32
	BaseTimestamp        int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	Records              []Record

	// Raw holds the exact bytes this batch was decoded from, including the
	// base-offset/length prefix, so a decoded batch can be written back out
	// byte-identical without re-encoding it field by field.
	Raw []byte
}

// Header is a single Kafka record header: an arbitrary key/value pair
// attached to a record. This server does not interpret header contents, but
// preserves them so re-encoding a Record round-trips exactly.
type Header struct {
	Key   string
	Value []byte
	HasValue bool
}

// Record is one record inside a Batch.
type Record struct {
	Attributes     int8
	TimestampDelta int64
	OffsetDelta    int64
	Key            []byte
	HasKey         bool
	Value          []byte
	HasValue       bool
	Headers        []Header
}

// ReadBatches decodes every record batch in buf, in order. It mirrors the
// length-prefixed scanning loop used to walk a segment file: each batch
// carries its own length, so a malformed or truncated trailing batch
// produces an error without needing to pre-parse the whole file.
func ReadBatches(buf []byte) ([]Batch, error) {
	var batches []Batch
	for len(buf) > 0 {
		if len(buf) < batchPrefixLen {
			return nil, fmt.Errorf("record: %d trailing byte(s), too short for a batch header", len(buf))
		}
		batchLen := int32(binary.BigEndian.Uint32(buf[8:12]))
		if batchLen < 0 {
			return nil, fmt.Errorf("record: negative batch length %d", batchLen)
		}
		total := batchPrefixLen + int(batchLen)
		if total > len(buf) {
			return nil, fmt.Errorf("record: batch claims %d bytes, only %d remain", total, len(buf))
		}

		raw := buf[:total]
		b, err := decodeBatch(raw)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
		buf = buf[total:]
	}
	return batches, nil
}

func decodeBatch(raw []byte) (Batch, error) {
	r := kbin.NewReader(raw)
	b := Batch{Raw: raw}
	b.BaseOffset = r.Int64()
	_ = r.Int32() // batch_length, already used to slice raw
	b.PartitionLeaderEpoch = r.Int32()
	b.Magic = r.Int8()
	b.CRC = r.Uint32()
	b.Attributes = r.Int16()
	b.LastOffsetDelta = r.Int32()
	b.BaseTimestamp = r.Int64()
	b.MaxTimestamp = r.Int64()
	b.ProducerID = r.Int64()
	b.ProducerEpoch = r.Int16()
	b.BaseSequence = r.Int32()
	count := r.Int32()
	if r.Err() != nil {
		return Batch{}, fmt.Errorf("record: decode batch header: %w", r.Err())
	}
	if count < 0 {
		return Batch{}, fmt.Errorf("record: negative record count %d", count)
	}

	b.Records = make([]Record, 0, count)
	for i := int32(0); i < count; i++ {
		rec, err := decodeRecord(r)
		if err != nil {
			return Batch{}, fmt.Errorf("record: decode record %d: %w", i, err)
		}
		b.Records = append(b.Records, rec)
	}
	if err := r.Complete(); err != nil {
		return Batch{}, fmt.Errorf("record: batch has trailing data: %w", err)
	}
	return b, nil
}

func decodeRecord(r *kbin.Reader) (Record, error) {
	length := r.Varint()
	if r.Err() != nil {
		return Record{}, r.Err()
	}
	if length < 0 {
		return Record{}, fmt.Errorf("record: negative record length %d", length)
	}
	// Records are themselves length-prefixed; decode the body out of its own
	// sub-reader so a malformed record can never walk past its boundary.
	body, ok := sliceN(r, int(length))
	if !ok {
		return Record{}, r.Err()
	}
	sub := kbin.NewReader(body)

	var rec Record
	rec.Attributes = sub.Int8()
	rec.TimestampDelta = sub.Varlong()
	rec.OffsetDelta = sub.Varlong()

	keyLen := sub.Varint()
	if sub.Err() == nil && keyLen >= 0 {
		k, ok := sliceN(sub, int(keyLen))
		if ok {
			rec.Key, rec.HasKey = k, true
		}
	}
	valLen := sub.Varint()
	if sub.Err() == nil && valLen >= 0 {
		v, ok := sliceN(sub, int(valLen))
		if ok {
			rec.Value, rec.HasValue = v, true
		}
	}
	headerCount := sub.Varint()
	if sub.Err() != nil {
		return Record{}, sub.Err()
	}
	if headerCount < 0 {
		return Record{}, fmt.Errorf("record: negative header count %d", headerCount)
	}
	rec.Headers = make([]Header, 0, headerCount)
	for i := int32(0); i < headerCount; i++ {
		hKeyLen := sub.Varint()
		hKey, ok := sliceN(sub, int(hKeyLen))
		if !ok {
			return Record{}, sub.Err()
		}
		hValLen := sub.Varint()
		h := Header{Key: string(hKey)}
		if hValLen >= 0 {
			hv, ok := sliceN(sub, int(hValLen))
			if !ok {
				return Record{}, sub.Err()
			}
			h.Value, h.HasValue = hv, true
		}
		rec.Headers = append(rec.Headers, h)
	}
	if err := sub.Complete(); err != nil {
		return Record{}, fmt.Errorf("record: trailing bytes in record body: %w", err)
	}
	return rec, nil
}

func sliceN(r *kbin.Reader, n int) ([]byte, bool) {
	if n < 0 {
		return nil, false
	}
	b := r.Raw(n)
	return b, r.Err() == nil
}

// AppendTo re-encodes the batch, recomputing the CRC over its contents
// rather than writing b.CRC. A batch decoded by ReadBatches can instead be
// written out verbatim from Raw.
func (b Batch) AppendTo(w *kbin.Writer) {
	body := kbin.NewWriter()
	body.AppendInt16(b.Attributes)
	body.AppendInt32(b.LastOffsetDelta)
	body.AppendInt64(b.BaseTimestamp)
	body.AppendInt64(b.MaxTimestamp)
	body.AppendInt64(b.ProducerID)
	body.AppendInt16(b.ProducerEpoch)
	body.AppendInt32(b.BaseSequence)
	body.AppendInt32(int32(len(b.Records)))
	for _, rec := range b.Records {
		rec.appendTo(body)
	}

	crc := crc32.Checksum(body.Bytes(), crc32c)

	w.AppendInt64(b.BaseOffset)
	batchLen := int32(4 /*leader epoch*/ + 1 /*magic*/ + 4 /*crc*/ + body.Len())
	w.AppendInt32(batchLen)
	w.AppendInt32(b.PartitionLeaderEpoch)
	w.AppendInt8(b.Magic)
	w.AppendUint32(crc)
	w.AppendRaw(body.Bytes())
}

func (rec Record) appendTo(w *kbin.Writer) {
	body := kbin.NewWriter()
	body.AppendInt8(rec.Attributes)
	body.AppendVarlong(rec.TimestampDelta)
	body.AppendVarlong(rec.OffsetDelta)
	if rec.HasKey {
		body.AppendVarint(int32(len(rec.Key)))
		body.AppendRaw(rec.Key)
	} else {
		body.AppendVarint(-1)
	}
	if rec.HasValue {
		body.AppendVarint(int32(len(rec.Value)))
		body.AppendRaw(rec.Value)
	} else {
		body.AppendVarint(-1)
	}
	body.AppendVarint(int32(len(rec.Headers)))
	for _, h := range rec.Headers {
		body.AppendVarint(int32(len(h.Key)))
		body.AppendRaw([]byte(h.Key))
		if h.HasValue {
			body.AppendVarint(int32(len(h.Value)))
			body.AppendRaw(h.Value)
		} else {
			body.AppendVarint(-1)
		}
	}
	w.AppendVarint(int32(body.Len()))
	w.AppendRaw(body.Bytes())
}

// Metadata record value types, matching the controller log's
// ApiMessageAndVersion framing: one leading frame-version byte, then a
// record-type byte that selects the variant below.
const (
	TypeTopic       int8 = 2
	TypePartition   int8 = 3
	TypeFeatureLevel int8 = 12
)

// Value is the decoded payload of a metadata log record: exactly one of
// Topic, Partition, or FeatureLevel is set, selected by Type, unless Type
// names a variant this server does not understand, in which case Opaque
// retains the undecoded bytes so the record can still be skipped over
// (and, if ever needed, re-encoded unchanged) instead of failing the load.
type Value struct {
	FrameVersion int8
	Type         int8
	Version      int8

	Topic        *TopicRecord
	Partition    *PartitionRecord
	FeatureLevel *FeatureLevelRecord
	Opaque       []byte
}

// TopicRecord registers a topic name to a topic UUID.
type TopicRecord struct {
	Name string
	ID   uuid.UUID
}

// PartitionRecord registers one partition of a topic and its replica set.
type PartitionRecord struct {
	PartitionID    int32
	TopicID        uuid.UUID
	Replicas       []int32
	ISR            []int32
	Leader         int32
	LeaderEpoch    int32
	PartitionEpoch int32
}

// FeatureLevelRecord records the cluster's negotiated level for a named
// feature (e.g. "metadata.version").
type FeatureLevelRecord struct {
	Name         string
	FeatureLevel int16
}

// DecodeValue decodes a record's value bytes as a metadata log entry.
func DecodeValue(b []byte) (Value, error) {
	r := kbin.NewReader(b)
	v := Value{
		FrameVersion: r.Int8(),
		Type:         r.Int8(),
		Version:      r.Int8(),
	}
	if r.Err() != nil {
		return Value{}, fmt.Errorf("record: decode value frame: %w", r.Err())
	}

	switch v.Type {
	case TypeTopic:
		name := r.CompactString()
		id := r.UUID()
		r.TagBuffer()
		if r.Err() != nil {
			return Value{}, fmt.Errorf("record: decode topic record: %w", r.Err())
		}
		v.Topic = &TopicRecord{Name: name, ID: id}
	case TypePartition:
		p := &PartitionRecord{}
		p.PartitionID = r.Int32()
		p.TopicID = r.UUID()
		if n, ok := r.CompactArrayLen(); ok {
			p.Replicas = make([]int32, n)
			for i := range p.Replicas {
				p.Replicas[i] = r.Int32()
			}
		}
		if n, ok := r.CompactArrayLen(); ok {
			p.ISR = make([]int32, n)
			for i := range p.ISR {
				p.ISR[i] = r.Int32()
			}
		}
		// Removing/adding replicas arrays exist on the wire but are unused
		// by any handler; skip them explicitly rather than mis-parse past
		// them.
		if n, ok := r.CompactArrayLen(); ok {
			for i := 0; i < n; i++ {
				r.Int32()
			}
		}
		if n, ok := r.CompactArrayLen(); ok {
			for i := 0; i < n; i++ {
				r.Int32()
			}
		}
		p.Leader = r.Int32()
		p.LeaderEpoch = r.Int32()
		p.PartitionEpoch = r.Int32()
		if n, ok := r.CompactArrayLen(); ok { // directories, ignored
			for i := 0; i < n; i++ {
				r.UUID()
			}
		}
		r.TagBuffer()
		if r.Err() != nil {
			return Value{}, fmt.Errorf("record: decode partition record: %w", r.Err())
		}
		v.Partition = p
	case TypeFeatureLevel:
		name := r.CompactString()
		level := r.Int16()
		r.TagBuffer()
		if r.Err() != nil {
			return Value{}, fmt.Errorf("record: decode feature level record: %w", r.Err())
		}
		v.FeatureLevel = &FeatureLevelRecord{Name: name, FeatureLevel: level}
	default:
		v.Opaque = b[3:]
	}
	return v, nil
}
