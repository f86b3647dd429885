// Package metadatalog reads the KRaft controller's metadata log — the
// single-partition `__cluster_metadata` topic every KRaft cluster writes
// its topic/partition/feature registrations to — and builds the in-memory
// indices handlers query to answer DescribeTopicPartitions and Fetch.
//
// The log is read once at startup, matching the original implementation's
// init_read_metadata_log: this server serves a point-in-time snapshot and
// never watches the file for appends.
package metadatalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/burningass23/kraft-broker/internal/record"
)

// segmentPath is the fixed location of the controller's first (and, for
// this server's purposes, only) log segment.
const segmentPath = "__cluster_metadata-0/00000000000000000000.log"

// segmentFile is the fixed log-segment filename every partition directory
// holds, controller metadata log included: this server only ever reads a
// partition's first (base offset 0) segment.
const segmentFile = "00000000000000000000.log"

// PartitionLogPath returns the path to a topic partition's log segment
// under baseDir, following the `<topic>-<partition>/<base-offset>.log`
// layout every partition directory (controller metadata log included)
// uses on disk.
func PartitionLogPath(baseDir, topic string, partition int32) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s-%d", topic, partition), segmentFile)
}

// TopicInfo is everything DescribeTopicPartitions needs about one topic.
type TopicInfo struct {
	Name       string
	ID         uuid.UUID
	Partitions []PartitionInfo
}

// PartitionInfo is one partition's registration as seen in the metadata
// log.
type PartitionInfo struct {
	PartitionID    int32
	Leader         int32
	LeaderEpoch    int32
	PartitionEpoch int32
	Replicas       []int32
	ISR            []int32
}

// Index is the queryable, read-only view over a loaded metadata log. All
// methods are safe for concurrent use; the index is built once and never
// mutated afterward, but the guard below matches the lazily-initialized,
// write-once-read-many access pattern the protocol handlers rely on.
type Index struct {
	mu sync.RWMutex

	baseDir string
	byName  map[string]*TopicInfo
	byID    map[uuid.UUID]string
}

// Load reads and decodes the metadata log under dir, and returns a ready
// Index. A missing or malformed log is a fatal startup condition: this
// server has nothing meaningful to serve without it.
func Load(dir string) (*Index, error) {
	path := filepath.Join(dir, segmentPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadatalog: read %s: %w", path, err)
	}

	batches, err := record.ReadBatches(data)
	if err != nil {
		return nil, fmt.Errorf("metadatalog: decode %s: %w", path, err)
	}

	idx := &Index{
		baseDir: dir,
		byName:  make(map[string]*TopicInfo),
		byID:    make(map[uuid.UUID]string),
	}

	for _, b := range batches {
		for _, rec := range b.Records {
			if !rec.HasValue {
				continue
			}
			v, err := record.DecodeValue(rec.Value)
			if err != nil {
				return nil, fmt.Errorf("metadatalog: decode record value: %w", err)
			}
			idx.apply(v)
		}
	}

	return idx, nil
}

// BaseDir returns the directory Load read the controller metadata log
// from. Fetch uses it to locate each requested partition's own log
// segment, which lives alongside the controller log under the same root.
func (idx *Index) BaseDir() string { return idx.baseDir }

func (idx *Index) apply(v record.Value) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	switch {
	case v.Topic != nil:
		t := idx.byName[v.Topic.Name]
		if t == nil {
			t = &TopicInfo{Name: v.Topic.Name}
			idx.byName[v.Topic.Name] = t
		}
		t.ID = v.Topic.ID
		idx.byID[v.Topic.ID] = v.Topic.Name
	case v.Partition != nil:
		name, ok := idx.byID[v.Partition.TopicID]
		if !ok {
			return // partition registered before its topic record; ignore
		}
		t := idx.byName[name]
		t.Partitions = append(t.Partitions, PartitionInfo{
			PartitionID:    v.Partition.PartitionID,
			Leader:         v.Partition.Leader,
			LeaderEpoch:    v.Partition.LeaderEpoch,
			PartitionEpoch: v.Partition.PartitionEpoch,
			Replicas:       v.Partition.Replicas,
			ISR:            v.Partition.ISR,
		})
	}
	// FeatureLevelRecord carries no information any handler in scope needs.
}

// Topic looks up a topic by name.
func (idx *Index) Topic(name string) (TopicInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.byName[name]
	if !ok {
		return TopicInfo{}, false
	}
	return *t, true
}

// TopicByID looks up a topic by UUID.
func (idx *Index) TopicByID(id uuid.UUID) (TopicInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	name, ok := idx.byID[id]
	if !ok {
		return TopicInfo{}, false
	}
	return *idx.byName[name], true
}

// Topics returns every known topic, in an unspecified order.
func (idx *Index) Topics() []TopicInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]TopicInfo, 0, len(idx.byName))
	for _, t := range idx.byName {
		out = append(out, *t)
	}
	return out
}
