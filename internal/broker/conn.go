package broker

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/burningass23/kraft-broker/internal/kbin"
	"github.com/burningass23/kraft-broker/internal/klog"
	"github.com/burningass23/kraft-broker/internal/kmsg"
	"github.com/burningass23/kraft-broker/internal/metadatalog"
	"github.com/burningass23/kraft-broker/internal/metrics"
)

// readChunk is the size of each raw read off the socket. Requests larger
// than this simply take more than one read to fully buffer; it has no
// bearing on the maximum request size, which this server does not limit.
const readChunk = 32 * 1024

// Conn is one client connection. It owns the connection's read buffer and
// runs the strict request/response loop: exactly one request is decoded,
// handled, and answered before the next is attempted — this protocol
// subset never pipelines.
type Conn struct {
	nc      net.Conn
	log     klog.Logger
	metrics *metrics.Registry
	index   *metadatalog.Index

	buf []byte
}

func newConn(nc net.Conn, log klog.Logger, m *metrics.Registry, idx *metadatalog.Index) *Conn {
	return &Conn{nc: nc, log: log, metrics: m, index: idx}
}

// serve runs the connection's read/decode/handle/write loop until the peer
// disconnects or a fatal protocol error occurs.
func (c *Conn) serve() {
	readBuf := make([]byte, readChunk)
	for {
		for {
			consumed, frame, err := tryParseFrame(c.buf)
			if err != nil {
				if errors.Is(err, kbin.ErrIncomplete) {
					break
				}
				c.log.Warn("closing connection after fatal decode error", klog.Err(err))
				return
			}
			if consumed == 0 {
				break
			}
			c.buf = c.buf[consumed:]

			if err := c.handleFrame(frame); err != nil {
				c.log.Warn("closing connection after handler error", klog.Err(err))
				return
			}
		}

		n, err := c.nc.Read(readBuf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(c.buf) != 0 {
					c.log.Warn("peer closed connection mid-request")
				}
				return
			}
			c.log.Warn("read error", klog.Err(err))
			return
		}
		if n == 0 {
			return
		}
		c.buf = append(c.buf, readBuf[:n]...)
	}
}

// tryParseFrame attempts to decode one length-prefixed message from buf.
// It returns the number of bytes consumed and the message payload (the
// bytes after the 4-byte length prefix) on success. If buf does not yet
// hold a complete message, it returns kbin.ErrIncomplete and buf is left
// untouched by the caller (consumed is 0) so the next read can extend it.
func tryParseFrame(buf []byte) (consumed int, frame []byte, err error) {
	r := kbin.NewReader(buf)
	length := r.Int32()
	if r.Err() != nil {
		return 0, nil, kbin.ErrIncomplete
	}
	if length < 0 {
		return 0, nil, fmt.Errorf("broker: negative message length %d", length)
	}
	total := 4 + int(length)
	if len(buf) < total {
		return 0, nil, kbin.ErrIncomplete
	}
	return total, buf[4:total], nil
}

func (c *Conn) handleFrame(frame []byte) error {
	r := kbin.NewReader(frame)
	header, err := kmsg.ReadRequestHeader(r)
	if err != nil {
		return fmt.Errorf("decode request header: %w", err)
	}

	body, errCode, err := c.handleRequest(header, frame[r.Off():])
	if err != nil {
		return fmt.Errorf("handle api_key=%d api_version=%d: %w", header.APIKey, header.APIVersion, err)
	}

	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(
			fmt.Sprint(header.APIKey),
			fmt.Sprint(header.APIVersion),
			fmt.Sprint(errCode),
		).Inc()
	}

	return c.writeResponse(header, body)
}

func (c *Conn) writeResponse(h kmsg.RequestHeader, body []byte) error {
	headerVersion := kmsg.ResponseHeaderVersion(h.APIKey, h.APIVersion)

	w := kbin.NewWriter()
	// Reserve space for the length prefix, patched in below once the full
	// message size is known.
	w.AppendInt32(0)
	kmsg.AppendResponseHeader(w, h.CorrelationID, headerVersion)
	w.AppendRaw(body)

	out := w.Bytes()
	messageLen := int32(len(out) - 4)
	out[0] = byte(messageLen >> 24)
	out[1] = byte(messageLen >> 16)
	out[2] = byte(messageLen >> 8)
	out[3] = byte(messageLen)

	_, err := c.nc.Write(out)
	return err
}
