package nsq

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
)

// connState is the lifecycle spec.md §4.2 names:
// New → Connecting → Identifying → Alive → Closed.
type connState int32

const (
	connStateNew connState = iota
	connStateConnecting
	connStateIdentifying
	connStateAlive
	connStateClosed
)

// IdentifyResponse is the JSON body (if any) nsqd returns from IDENTIFY,
// trimmed to the fields spec.md §3/§6 name plus the compression/TLS
// capability flags the handshake needs to negotiate.
type IdentifyResponse struct {
	MaxRdyCount int64 `json:"max_rdy_count"`
	TLSv1       bool  `json:"tls_v1"`
	Deflate     bool  `json:"deflate"`
	Snappy      bool  `json:"snappy"`
}

// Connection is one TCP session to one nsqd (spec.md §3/§4.2).
//
// All state here is touched only by the goroutine executing Client.read
// (the readiness loop): no field is protected by its own mutex, by
// design — see spec.md §5's "Shared resources" note.
type Connection struct {
	endpoint Endpoint
	cfg      *Config

	conn    net.Conn
	tlsConn *tls.Conn
	r       ioReader
	w       ioWriter

	state connState

	outBuffer bytes.Buffer
	decoder   frameDecoder

	ready         int64
	lastReadySent int64
	maxRdyCount   int64

	identifyResp *IdentifyResponse
}

// ioReader/ioWriter let the TLS and Snappy upgrades swap the active
// stream without changing Connection's own Read/Write call sites
// (mirrors the layered c.r/c.w fields in the vendored bitly/go-nsq
// Conn). There is no Deflate upgrade: a Deflate flag in the IDENTIFY
// response is decoded into IdentifyResponse and the stream is left
// unchanged.
type ioReader interface {
	Read(p []byte) (int, error)
}
type ioWriter interface {
	Write(p []byte) (int, error)
}

// NewConnection constructs a Connection in state New. It performs no I/O.
func NewConnection(endpoint Endpoint, cfg *Config) *Connection {
	return &Connection{
		endpoint:    endpoint,
		cfg:         cfg,
		maxRdyCount: defaultMaxRdyCount,
	}
}

// Endpoint returns the connection's immutable identity.
func (c *Connection) Endpoint() Endpoint { return c.endpoint }

// String identifies the connection for log lines, matching the
// teacher ecosystem's "[addr] message" convention.
func (c *Connection) String() string { return c.endpoint.String() }

// Alive reports whether the connection is usable. While false it must
// not appear in any readiness set (spec.md §3 invariant).
func (c *Connection) Alive() bool {
	return connState(atomic.LoadInt32((*int32)(&c.state))) == connStateAlive
}

// Pending reports whether outBuffer holds unsent bytes.
func (c *Connection) Pending() bool {
	return c.outBuffer.Len() > 0
}

// Ready returns the remaining RDY credit as the client believes the
// server sees it.
func (c *Connection) Ready() int64 { return c.ready }

// LastReadySent returns the most recent RDY value handed to the server.
func (c *Connection) LastReadySent() int64 { return c.lastReadySent }

// MaxRdyCount returns the server-negotiated RDY ceiling.
func (c *Connection) MaxRdyCount() int64 { return c.maxRdyCount }

// Open establishes the TCP session and performs the magic + IDENTIFY
// handshake. Fails with ErrHandshakeFailed on any protocol deviation;
// the connection is left in state Closed on failure.
func (c *Connection) Open() error {
	atomic.StoreInt32((*int32)(&c.state), int32(connStateConnecting))

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.Dial("tcp", c.endpoint.String())
	if err != nil {
		atomic.StoreInt32((*int32)(&c.state), int32(connStateClosed))
		return wrapErr(ErrHandshakeFailed, "dial", err)
	}
	c.conn = conn
	c.r = conn
	c.w = conn

	if _, err := c.w.Write(MagicV2); err != nil {
		c.conn.Close()
		atomic.StoreInt32((*int32)(&c.state), int32(connStateClosed))
		return wrapErr(ErrHandshakeFailed, "write magic", err)
	}

	atomic.StoreInt32((*int32)(&c.state), int32(connStateIdentifying))
	resp, err := c.identify()
	if err != nil {
		c.conn.Close()
		atomic.StoreInt32((*int32)(&c.state), int32(connStateClosed))
		return err
	}
	c.identifyResp = resp
	if resp != nil && resp.MaxRdyCount > 0 {
		c.maxRdyCount = resp.MaxRdyCount
	}

	atomic.StoreInt32((*int32)(&c.state), int32(connStateAlive))
	return nil
}

// IdentifyResponse returns the capabilities nsqd negotiated during the
// handshake, or nil if it replied with a bare "OK" (no JSON body).
func (c *Connection) IdentifyResponse() *IdentifyResponse { return c.identifyResp }

func (c *Connection) identify() (*IdentifyResponse, error) {
	cmd, err := Identify(c.cfg.identifyPayload())
	if err != nil {
		return nil, wrapErr(ErrHandshakeFailed, "encode IDENTIFY", err)
	}

	c.conn.SetDeadline(time.Now().Add(c.cfg.DialTimeout))
	if _, err := cmd.WriteTo(c.w); err != nil {
		return nil, wrapErr(ErrHandshakeFailed, "write IDENTIFY", err)
	}

	frameType, data, err := readUnpackedFrame(c.r)
	if err != nil {
		return nil, wrapErr(ErrHandshakeFailed, "read IDENTIFY response", err)
	}
	if frameType == FrameTypeError {
		return nil, wrapErr(ErrHandshakeFailed, "IDENTIFY rejected", fmt.Errorf("%s", data))
	}
	if len(data) == 0 || data[0] != '{' {
		// non-JSON OK response: no negotiated capabilities
		return nil, nil
	}

	resp := &IdentifyResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, wrapErr(ErrHandshakeFailed, "decode IDENTIFY response", err)
	}

	if resp.TLSv1 {
		if err := c.upgradeTLS(); err != nil {
			return nil, wrapErr(ErrHandshakeFailed, "TLS upgrade", err)
		}
	}
	if resp.Snappy {
		if err := c.upgradeSnappy(); err != nil {
			return nil, wrapErr(ErrHandshakeFailed, "Snappy upgrade", err)
		}
	}

	return resp, nil
}

func (c *Connection) upgradeTLS() error {
	conf := &tls.Config{InsecureSkipVerify: true}
	c.tlsConn = tls.Client(c.conn, conf)
	if err := c.tlsConn.Handshake(); err != nil {
		return err
	}
	c.r = c.tlsConn
	c.w = c.tlsConn
	frameType, data, err := readUnpackedFrame(c.r)
	if err != nil {
		return err
	}
	if frameType != FrameTypeResponse || string(data) != "OK" {
		return fmt.Errorf("invalid response from TLS upgrade")
	}
	return nil
}

// upgradeSnappy swaps the active stream for a Snappy-framed one once
// nsqd advertises support, adapted from the vendored bitly/go-nsq
// Conn.upgradeSnappy for this connection's single non-blocking reader.
func (c *Connection) upgradeSnappy() error {
	underlying := net.Conn(c.conn)
	if c.tlsConn != nil {
		underlying = c.tlsConn
	}
	c.r = snappy.NewReader(underlying)
	c.w = snappy.NewWriter(underlying)
	frameType, data, err := readUnpackedFrame(c.r)
	if err != nil {
		return err
	}
	if frameType != FrameTypeResponse || string(data) != "OK" {
		return fmt.Errorf("invalid response from Snappy upgrade")
	}
	return nil
}

// read performs one non-blocking drain of the socket, decoding as
// many complete frames as are currently available (spec.md §4.2's
// "lazy finite-per-call sequence"). Messages are stamped with their
// origin and decrement ready. A framing violation or real I/O error
// is returned to the caller, which is expected to close the
// connection on anything but errShortFrame.
//
// Non-blocking is implemented via SetReadDeadline(time.Now()): an
// already-elapsed deadline makes the next Read return immediately
// with whatever is already buffered by the kernel instead of
// blocking, the stdlib-documented equivalent of socket.setblocking(0).
func (c *Connection) read() ([]Frame, error) {
	buf := make([]byte, 64*1024)
	for {
		c.conn.SetReadDeadline(time.Now())
		n, err := c.r.Read(buf)
		if n > 0 {
			c.decoder.feed(buf[:n])
		}
		if err != nil {
			if isTimeout(err) {
				break
			}
			frames, _ := c.drainFrames()
			return frames, err
		}
		if n == 0 {
			break
		}
	}
	return c.drainFrames()
}

func (c *Connection) drainFrames() ([]Frame, error) {
	var frames []Frame
	for {
		f, err := c.decoder.next()
		if err == errShortFrame {
			break
		}
		if err != nil {
			// surface the malformed frame once, then stop: the
			// caller closes the connection on any error return.
			return frames, err
		}
		if mf, ok := f.(MessageFrame); ok {
			mf.Message.origin = c
			atomic.AddInt64(&c.ready, -1)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// flush writes as much of outBuffer as the socket accepts without
// blocking (same SetWriteDeadline(time.Now()) trick as read).
// Partial writes are kept buffered for the next flush.
func (c *Connection) flush() error {
	if c.outBuffer.Len() == 0 {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now())
	n, err := c.w.Write(c.outBuffer.Bytes())
	if n > 0 {
		c.outBuffer.Next(n)
	}
	if err != nil && !isTimeout(err) {
		return err
	}
	return nil
}

// send appends an encoded command to outBuffer; flush (driven by the
// Client readiness loop) actually writes it.
func (c *Connection) send(cmd *Command) {
	cmd.WriteTo(&c.outBuffer)
}

// Close performs a best-effort socket shutdown and marks the
// connection dead. Idempotent.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32((*int32)(&c.state), int32(connStateAlive), int32(connStateClosed)) {
		atomic.StoreInt32((*int32)(&c.state), int32(connStateClosed))
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Convenience command wrappers (spec.md §4.2).

func (c *Connection) sub(topic, channel string) {
	c.send(Subscribe(topic, channel))
}

func (c *Connection) rdy(count int64) {
	c.send(Ready(int(count)))
	atomic.StoreInt64(&c.ready, count)
	atomic.StoreInt64(&c.lastReadySent, count)
}

func (c *Connection) fin(id MessageID) {
	c.send(Finish(id))
}

func (c *Connection) req(id MessageID, timeout time.Duration) {
	c.send(Requeue(id, timeout))
}

func (c *Connection) touch(id MessageID) {
	c.send(Touch(id))
}

func (c *Connection) nop() {
	c.send(Nop())
}

func (c *Connection) pub(topic string, body []byte) {
	c.send(Publish(topic, body))
}

// rawFD exposes the underlying socket's file descriptor for the
// unix.Select-based readiness wait in readiness_linux.go.
func (c *Connection) rawFD() (uintptr, error) {
	return fdOf(c.conn)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
