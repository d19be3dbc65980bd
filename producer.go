package nsq

// Producer is a thin publisher built on one Connection plus the same
// readiness primitive Client uses for its socket set. It exists
// because PUB/MPUB/DPUB are mandatory parts of the wire codec
// regardless of spec.md's "convenience producers" Non-goal, and
// because the teacher's own examples/main.go calls nsq.NewProducer /
// p.Publish directly. It intentionally carries none of the
// transaction/async-publish machinery a full producer would: that
// remains out of scope.
type Producer struct {
	loggable

	cfg  *Config
	addr string
	conn *Connection
}

// NewProducer constructs a Producer targeting one nsqd TCP address.
// The connection is opened lazily, on first Publish.
func NewProducer(addr string, cfg *Config) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Producer{
		loggable: newLoggable(),
		cfg:      cfg,
		addr:     addr,
	}, nil
}

func (p *Producer) connect() error {
	if p.conn != nil && p.conn.Alive() {
		return nil
	}
	endpoint, err := ParseEndpoint(p.addr)
	if err != nil {
		return err
	}
	conn := NewConnection(endpoint, p.cfg)
	if err := conn.Open(); err != nil {
		return err
	}
	p.conn = conn
	return nil
}

// Publish sends PUB(topic, body) and waits (via the single-connection
// readiness loop) for nsqd's OK/error Response.
func (p *Producer) Publish(topic string, body []byte) error {
	if err := p.connect(); err != nil {
		return err
	}
	p.conn.pub(topic, body)
	return p.waitOK()
}

// MultiPublish sends MPUB(topic, bodies) and waits for the Response.
func (p *Producer) MultiPublish(topic string, bodies [][]byte) error {
	if err := p.connect(); err != nil {
		return err
	}
	cmd, err := MultiPublish(topic, bodies)
	if err != nil {
		return wrapErr(ErrProtocol, "encode MPUB", err)
	}
	p.conn.send(cmd)
	return p.waitOK()
}

// DeferredPublish sends DPUB(topic, delay, body) and waits for the Response.
func (p *Producer) DeferredPublish(topic string, delay int64, body []byte) error {
	if err := p.connect(); err != nil {
		return err
	}
	p.conn.send(DeferredPublish(topic, msToDuration(delay), body))
	return p.waitOK()
}

// waitOK drives the readiness primitive over the producer's single
// connection until a Response or Error frame arrives, flushing the
// pending command as needed. Each readiness wait is bounded by
// Config.Timeout, but the loop has no overall deadline: a step that
// times out is followed by another, so waitOK returns only on a
// Response or Error frame, an I/O or readiness error, or an
// exceptional condition on the socket.
func (p *Producer) waitOK() error {
	for {
		writeSet := map[*Connection]bool{}
		if p.conn.Pending() {
			writeSet[p.conn] = true
		}
		readable, writable, exceptional, err := waitReadiness([]*Connection{p.conn}, writeSet, p.cfg.Timeout)
		if err != nil {
			return err
		}
		for _, conn := range writable {
			if err := conn.flush(); err != nil {
				return err
			}
		}
		for _, conn := range exceptional {
			conn.Close()
			return wrapErr(ErrFatalServer, "connection exception while publishing", nil)
		}
		for _, conn := range readable {
			frames, err := conn.read()
			if err != nil {
				return err
			}
			for _, f := range frames {
				switch fr := f.(type) {
				case ResponseFrame:
					if fr.IsHeartbeat() {
						conn.nop()
						continue
					}
					return nil
				case ErrorFrame:
					if fr.Fatal() {
						conn.Close()
					}
					return wrapErr(ErrFatalServer, "publish rejected", fr)
				}
			}
		}
	}
}

// Close shuts down the producer's connection, if open.
func (p *Producer) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
