package kmsg

import (
	"sort"

	"github.com/burningass23/kraft-broker/internal/kbin"
)

// MaxApiVersionsVersion is the highest ApiVersions request version this
// server understands.
const MaxApiVersionsVersion int16 = 4

// ApiKeySupport is one entry in an ApiVersions response: the version range
// this server supports for a given API key.
type ApiKeySupport struct {
	APIKey     int16
	MinVersion int16
	MaxVersion int16
}

// SupportedAPIs is the fixed set of (api_key, version range) pairs this
// server advertises. Sorted by api_key on every read, matching the
// original implementation's Ord-by-api_key-only sort.
var SupportedAPIs = []ApiKeySupport{
	{APIKey: APIKeyFetch, MinVersion: 0, MaxVersion: 16},
	{APIKey: APIKeyApiVersions, MinVersion: 0, MaxVersion: MaxApiVersionsVersion},
	{APIKey: APIKeyDescribeTopicPartitions, MinVersion: 0, MaxVersion: 0},
}

func sortedSupportedAPIs() []ApiKeySupport {
	out := make([]ApiKeySupport, len(SupportedAPIs))
	copy(out, SupportedAPIs)
	sort.Slice(out, func(i, j int) bool { return out[i].APIKey < out[j].APIKey })
	return out
}

// ApiVersionsRequest is the body of an ApiVersions request, versions 0-4.
// Versions 0-2 carry no body fields; version 3+ adds the client software
// identification fields and switches to the flexible encoding.
type ApiVersionsRequest struct {
	ClientSoftwareName    string
	ClientSoftwareVersion string
}

// ReadApiVersionsRequest decodes an ApiVersions request body for the given
// version.
func ReadApiVersionsRequest(r *kbin.Reader, version int16) (ApiVersionsRequest, error) {
	var req ApiVersionsRequest
	if version >= 3 {
		req.ClientSoftwareName = r.CompactString()
		req.ClientSoftwareVersion = r.CompactString()
		r.TagBuffer()
	}
	if r.Err() != nil {
		return ApiVersionsRequest{}, r.Err()
	}
	return req, nil
}

// ApiVersionsResponse is the body of an ApiVersions response.
type ApiVersionsResponse struct {
	ErrorCode      int16
	APIKeys        []ApiKeySupport
	ThrottleTimeMs int32
}

// NewApiVersionsResponse builds the standard response advertising every
// API this server supports, or an error-only response when errorCode is
// nonzero (e.g. the client requested an unsupported ApiVersions version).
func NewApiVersionsResponse(errorCode int16) ApiVersionsResponse {
	if errorCode != ErrNone {
		return ApiVersionsResponse{ErrorCode: errorCode}
	}
	return ApiVersionsResponse{ErrorCode: ErrNone, APIKeys: sortedSupportedAPIs()}
}

// AppendTo encodes the response body. ApiVersions responses always use the
// flexible (compact) body encoding for version 3+, and the legacy encoding
// below that, independent of the response header version (which, per
// ResponseHeaderVersion, is always v0 for this API).
func (resp ApiVersionsResponse) AppendTo(w *kbin.Writer, version int16) {
	flexible := version >= 3
	w.AppendInt16(resp.ErrorCode)
	if flexible {
		w.AppendCompactArrayLen(len(resp.APIKeys), true)
	} else {
		w.AppendArrayLen(len(resp.APIKeys), true)
	}
	for _, k := range resp.APIKeys {
		w.AppendInt16(k.APIKey)
		w.AppendInt16(k.MinVersion)
		w.AppendInt16(k.MaxVersion)
		if flexible {
			w.AppendTagBuffer()
		}
	}
	if version >= 1 {
		w.AppendInt32(resp.ThrottleTimeMs)
	}
	if flexible {
		w.AppendTagBuffer()
	}
}
