package nsq

// Reader composes a Client and adds the consumer-side distribution
// spec.md §4.5 describes: per-connection SUB on insert, fair RDY
// redistribution, and a message-only iterator. Grounded directly on
// test_reader.py's test names (test_new_connections_rdy,
// test_it_checks_max_in_flight, test_zero_ready, test_low_ready,
// test_skip_non_messages) — each is mirrored below in reader_test.go.
type Reader struct {
	*Client

	topic       string
	channel     string
	maxInFlight int64

	buffered []*Message
}

// NewReader constructs a Reader subscribed to topic/channel, with
// maxInFlight as the global in-flight budget distribute_ready
// partitions across live connections (spec.md §4.5).
func NewReader(cfg *Config, topic, channel string, maxInFlight int64) (*Reader, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		Client:      client,
		topic:       topic,
		channel:     channel,
		maxInFlight: maxInFlight,
	}
	// Go has no virtual dispatch through Client's embedded methods, so
	// the "overrides add" behavior spec.md §4.5 describes is wired as
	// a callback Client invokes after a genuinely new insert.
	client.afterAdd = r.onConnectionAdded

	// Connections already established during NewClient's construction-time
	// checkConnections (before afterAdd was installed) still need SUB +
	// an initial RDY share.
	for _, conn := range r.Connections() {
		r.onConnectionAdded(conn)
	}

	return r, nil
}

// onConnectionAdded is the per-connection setup spec.md §4.5's
// "overrides add" names: SUB the new connection, then rebalance RDY
// across the whole live set.
func (r *Reader) onConnectionAdded(conn *Connection) {
	conn.sub(r.topic, r.channel)
	if err := r.distributeReady(); err != nil {
		r.logf(LogLevelError, "%s", err)
	}
}

// distributeReady redistributes maxInFlight across live connections
// (spec.md §4.5). Fails with InsufficientInFlightBudget if maxInFlight
// is smaller than the live connection count, since no partition can
// then give every connection at least one unit of RDY credit.
func (r *Reader) distributeReady() error {
	live := make([]*Connection, 0)
	for _, conn := range r.Connections() {
		if conn.Alive() {
			live = append(live, conn)
		}
	}
	if len(live) == 0 {
		return nil
	}
	if r.maxInFlight < int64(len(live)) {
		return newErr(ErrInsufficientInFlightBudget, "max_in_flight smaller than live connection count")
	}

	shares := distribute(live, int(r.maxInFlight))
	for _, conn := range live {
		conn.rdy(shares[conn])
	}
	return nil
}

// needsDistributeReady reports whether any live connection is
// depleted or drifting low enough to warrant a rebalance (spec.md
// §4.5). False when there are no live connections.
func (r *Reader) needsDistributeReady() bool {
	for _, conn := range r.Connections() {
		if !conn.Alive() {
			continue
		}
		low := conn.LastReadySent() / 4
		if low < 1 {
			low = 1
		}
		if conn.Ready() <= 0 || conn.Ready() <= low {
			return true
		}
	}
	return false
}

// read runs one readiness step, first rebalancing RDY if needed
// (spec.md §4.5).
func (r *Reader) read() []Frame {
	if r.needsDistributeReady() {
		if err := r.distributeReady(); err != nil {
			r.logf(LogLevelError, "%s", err)
		}
	}
	return r.Client.read()
}

// NextMsg returns the next Message, refilling its internal buffer
// from read() whenever it runs dry (spec.md §4.5's message iterator).
// Non-message frames are silently skipped: they were already acted on
// by the multiplexer (heartbeats) or are diagnostic responses/errors
// with nothing for the application to do. Bounded by Config.Timeout
// per call — it does not block indefinitely waiting for a message.
func (r *Reader) NextMsg() *Message {
	if len(r.buffered) == 0 {
		r.buffered = append(r.buffered, filterMessages(r.read())...)
	}
	return r.nextBuffered()
}

func (r *Reader) nextBuffered() *Message {
	if len(r.buffered) == 0 {
		return nil
	}
	m := r.buffered[0]
	r.buffered = r.buffered[1:]
	return m
}

// filterMessages picks the Message frames out of a readiness step's
// result, dropping Response/Error frames the multiplexer already
// acted on or that carry nothing for the application (spec.md §4.5's
// "non-message frames are silently skipped").
func filterMessages(frames []Frame) []*Message {
	var out []*Message
	for _, f := range frames {
		if mf, ok := f.(MessageFrame); ok {
			out = append(out, mf.Message)
		}
	}
	return out
}
