// Package kmsg defines the request and response message trees for the
// three Kafka APIs this server answers: ApiVersions, DescribeTopicPartitions,
// and Fetch. Types follow the teacher pack's kmsg naming convention
// (AppendTo methods encode; decoding is done by Read* functions, and there
// are no Request/Response interfaces) but are hand-written for this fixed,
// small API surface rather than generated.
package kmsg

import (
	"fmt"

	"github.com/burningass23/kraft-broker/internal/kbin"
)

// API keys this server recognizes.
const (
	APIKeyFetch                   int16 = 1
	APIKeyApiVersions             int16 = 18
	APIKeyDescribeTopicPartitions int16 = 75
)

// RequestHeader is the Kafka request header v2: api_key, api_version,
// correlation_id, client_id (a legacy nullable string regardless of the
// body's own flexibility), and a trailing tag buffer. Unlike the response
// header, the request header's tag buffer is present unconditionally —
// it does not depend on whether the request body itself is flexible.
type RequestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      string
	HasClientID   bool
}

// ReadRequestHeader decodes a request header v2.
func ReadRequestHeader(r *kbin.Reader) (RequestHeader, error) {
	var h RequestHeader
	h.APIKey = r.Int16()
	h.APIVersion = r.Int16()
	h.CorrelationID = r.Int32()
	h.ClientID, h.HasClientID = r.NullableString()
	r.TagBuffer()
	if r.Err() != nil {
		return RequestHeader{}, fmt.Errorf("kmsg: decode request header: %w", r.Err())
	}
	return h, nil
}

// ResponseHeaderVersion selects between the two response header encodings:
// v0 (bare correlation id) and v1 (correlation id plus a tag buffer). Kafka
// ties this to the response body's flexibility, with the documented
// exception that ApiVersions always replies with v0 even though its
// request is flexible from v3 onward — the version negotiation response
// must be decodable by a client that does not yet know the broker's
// flexible-version support.
func ResponseHeaderVersion(apiKey, apiVersion int16) int8 {
	if apiKey == APIKeyApiVersions {
		return 0
	}
	if isFlexible(apiKey, apiVersion) {
		return 1
	}
	return 0
}

// AppendResponseHeader writes a response header of the given version.
func AppendResponseHeader(w *kbin.Writer, correlationID int32, version int8) {
	w.AppendInt32(correlationID)
	if version >= 1 {
		w.AppendTagBuffer()
	}
}

func isFlexible(apiKey, apiVersion int16) bool {
	switch apiKey {
	case APIKeyApiVersions:
		return apiVersion >= 3
	case APIKeyDescribeTopicPartitions:
		return true
	case APIKeyFetch:
		return apiVersion >= 12
	default:
		return false
	}
}

// IsFlexible reports whether the given (api_key, api_version) pair uses
// the flexible (compact, tag-buffer-terminated) encoding for its body.
func IsFlexible(apiKey, apiVersion int16) bool { return isFlexible(apiKey, apiVersion) }
