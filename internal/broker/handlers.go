package broker

import (
	"os"

	"github.com/burningass23/kraft-broker/internal/kbin"
	"github.com/burningass23/kraft-broker/internal/klog"
	"github.com/burningass23/kraft-broker/internal/kmsg"
	"github.com/burningass23/kraft-broker/internal/metadatalog"
)

// handleRequest dispatches a decoded request body to the matching handler
// and returns the encoded response body (not including either header). The
// returned error code is also reported so the caller can record it in
// metrics without re-decoding the response.
func (c *Conn) handleRequest(h kmsg.RequestHeader, body []byte) ([]byte, int16, error) {
	switch h.APIKey {
	case kmsg.APIKeyApiVersions:
		return c.handleApiVersions(h, body)
	case kmsg.APIKeyDescribeTopicPartitions:
		return c.handleDescribeTopicPartitions(h, body)
	case kmsg.APIKeyFetch:
		return c.handleFetch(h, body)
	default:
		// No handler for this API at all: respond exactly as an
		// unsupported-version ApiVersions request would, since that is the
		// only error shape a client speaking a protocol this server
		// supports any subset of is prepared to parse.
		return unsupportedVersionResponse()
	}
}

func unsupportedVersionResponse() ([]byte, int16, error) {
	w := kbin.NewWriter()
	kmsg.NewApiVersionsResponse(kmsg.ErrUnsupportedVersion).AppendTo(w, 0)
	return w.Bytes(), kmsg.ErrUnsupportedVersion, nil
}

func (c *Conn) handleApiVersions(h kmsg.RequestHeader, body []byte) ([]byte, int16, error) {
	w := kbin.NewWriter()
	if h.APIVersion < 0 || h.APIVersion > kmsg.MaxApiVersionsVersion {
		resp := kmsg.NewApiVersionsResponse(kmsg.ErrUnsupportedVersion)
		resp.AppendTo(w, 0)
		return w.Bytes(), kmsg.ErrUnsupportedVersion, nil
	}

	r := kbin.NewReader(body)
	if _, err := kmsg.ReadApiVersionsRequest(r, h.APIVersion); err != nil {
		return nil, 0, err
	}

	resp := kmsg.NewApiVersionsResponse(kmsg.ErrNone)
	resp.AppendTo(w, h.APIVersion)
	return w.Bytes(), kmsg.ErrNone, nil
}

func (c *Conn) handleDescribeTopicPartitions(h kmsg.RequestHeader, body []byte) ([]byte, int16, error) {
	if h.APIVersion != 0 {
		return unsupportedVersionResponse()
	}

	r := kbin.NewReader(body)
	req, err := kmsg.ReadDescribeTopicPartitionsRequest(r)
	if err != nil {
		return nil, 0, err
	}

	resp := kmsg.DescribeTopicPartitionsResponse{
		Topics: make([]kmsg.TopicResponse, 0, len(req.Topics)),
	}
	worstErr := kmsg.ErrNone
	for _, topicReq := range req.Topics {
		topic, ok := c.index.Topic(topicReq.Name)
		if !ok {
			resp.Topics = append(resp.Topics, kmsg.UnknownTopicResponse(topicReq.Name))
			worstErr = kmsg.ErrUnknownTopicOrPartition
			continue
		}
		resp.Topics = append(resp.Topics, describeKnownTopic(topic))
	}

	w := kbin.NewWriter()
	resp.AppendTo(w)
	return w.Bytes(), worstErr, nil
}

func describeKnownTopic(topic metadatalog.TopicInfo) kmsg.TopicResponse {
	partitions := make([]kmsg.PartitionResponse, 0, len(topic.Partitions))
	for _, p := range topic.Partitions {
		partitions = append(partitions, kmsg.PartitionResponse{
			ErrorCode:      kmsg.ErrNone,
			PartitionIndex: p.PartitionID,
			LeaderID:       p.Leader,
			LeaderEpoch:    p.LeaderEpoch,
			Replicas:       p.Replicas,
			ISR:            p.ISR,
		})
	}
	return kmsg.TopicResponse{
		ErrorCode:                 kmsg.ErrNone,
		Name:                      topic.Name,
		HasName:                   true,
		TopicID:                   topic.ID,
		Partitions:                partitions,
		TopicAuthorizedOperations: kmsg.DefaultTopicAuthorizedOperations,
	}
}

func (c *Conn) handleFetch(h kmsg.RequestHeader, body []byte) ([]byte, int16, error) {
	if h.APIVersion != kmsg.MaxFetchVersion {
		return unsupportedVersionResponse()
	}

	r := kbin.NewReader(body)
	req, err := kmsg.ReadFetchRequest(r)
	if err != nil {
		return nil, 0, err
	}

	resp := kmsg.FetchResponse{
		SessionID: req.SessionID,
		Responses: make([]kmsg.FetchTopicResponse, 0, len(req.Topics)),
	}

	var bytesServed int
	for _, topicReq := range req.Topics {
		topicResp := c.fetchTopic(topicReq)
		for _, p := range topicResp.Partitions {
			bytesServed += len(p.Records)
		}
		resp.Responses = append(resp.Responses, topicResp)
	}
	if c.metrics != nil && bytesServed > 0 {
		c.metrics.FetchBytesServed.Add(float64(bytesServed))
	}

	w := kbin.NewWriter()
	resp.AppendTo(w)
	return w.Bytes(), kmsg.ErrNone, nil
}

func (c *Conn) fetchTopic(topicReq kmsg.FetchTopicRequest) kmsg.FetchTopicResponse {
	topic, ok := c.index.TopicByID(topicReq.TopicID)
	if !ok {
		partitions := make([]kmsg.FetchPartitionResponse, len(topicReq.Partitions))
		for i, p := range topicReq.Partitions {
			partitions[i] = kmsg.FetchPartitionResponse{
				PartitionIndex: p.PartitionIndex,
				ErrorCode:      kmsg.ErrUnknownTopicID,
			}
		}
		return kmsg.FetchTopicResponse{TopicID: topicReq.TopicID, Partitions: partitions}
	}

	known := make(map[int32]bool, len(topic.Partitions))
	for _, p := range topic.Partitions {
		known[p.PartitionID] = true
	}

	partitions := make([]kmsg.FetchPartitionResponse, 0, len(topicReq.Partitions))
	for _, p := range topicReq.Partitions {
		if !known[p.PartitionIndex] {
			partitions = append(partitions, kmsg.FetchPartitionResponse{
				PartitionIndex: p.PartitionIndex,
				ErrorCode:      kmsg.ErrUnknownTopicOrPartition,
			})
			continue
		}
		partitions = append(partitions, c.fetchPartition(topic.Name, p.PartitionIndex))
	}
	return kmsg.FetchTopicResponse{TopicID: topicReq.TopicID, Partitions: partitions}
}

// fetchPartition reads a partition's log segment straight off disk and
// returns its bytes verbatim as the Fetch response's record batch data.
// A missing or unreadable segment is not treated as fatal: per the
// graceful path this server chooses over the original implementation's
// panic, it is reported as an UNKNOWN_TOPIC_OR_PARTITION error on just
// that partition, and the connection stays open.
func (c *Conn) fetchPartition(topic string, partitionIndex int32) kmsg.FetchPartitionResponse {
	path := metadatalog.PartitionLogPath(c.index.BaseDir(), topic, partitionIndex)
	data, err := os.ReadFile(path)
	if err != nil {
		c.log.Warn("partition log unreadable, reporting unknown partition",
			klog.String("path", path), klog.Err(err))
		return kmsg.FetchPartitionResponse{
			PartitionIndex: partitionIndex,
			ErrorCode:      kmsg.ErrUnknownTopicOrPartition,
		}
	}
	return kmsg.FetchPartitionResponse{
		PartitionIndex: partitionIndex,
		ErrorCode:      kmsg.ErrNone,
		Records:        data,
	}
}
