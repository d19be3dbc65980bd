package nsq

import (
	"sync"
	"time"
)

// Client is the base consumer/publisher multiplexer (spec.md §4.4): it
// owns the connection table, drives the single-threaded readiness
// loop, auto-responds to heartbeats, and dispatches decoded frames.
//
// Reader composes a Client; Producer does not use one, it drives a
// single Connection through the same readiness wait directly.
type Client struct {
	loggable

	cfg      *Config
	lookupds []*lookupdClient

	mu          sync.RWMutex
	connections map[Endpoint]*Connection

	closeConnection func(*Connection)
	// afterAdd is Reader's hook for spec.md §4.5's "subscribe-on-add"
	// override. Go has no virtual dispatch through an embedded struct,
	// so Reader composes a Client and installs this callback instead of
	// overriding add in place — the idiomatic translation of the
	// Python original's subclassing.
	afterAdd func(*Connection)

	stopDiscovery chan struct{}
	discoveryDone chan struct{}
}

// NewClient constructs a Client per spec.md §4.4/§6: if any lookupd
// addresses are configured, Topic must be set. Performs the
// construction-time discovery + static-address connect pass
// (client.py's check_connections(), called once from __init__).
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		loggable:    newLoggable(),
		cfg:         cfg,
		connections: make(map[Endpoint]*Connection),
	}
	for _, addr := range cfg.LookupdHTTPAddresses {
		c.lookupds = append(c.lookupds, newLookupdClient(addr))
	}
	c.closeConnection = c.defaultCloseConnection
	c.debugDump("config", cfg)

	c.checkConnections()

	if cfg.LookupdPollInterval > 0 {
		c.stopDiscovery = make(chan struct{})
		c.discoveryDone = make(chan struct{})
		go c.runDiscoveryLoop()
	}

	return c, nil
}

// checkConnections connects to every discovered and statically
// configured endpoint not already present (spec.md §4.4). A
// known-but-dead static endpoint is left alone — see SPEC_FULL.md §D's
// "static address reconnection" resolution.
func (c *Client) checkConnections() {
	endpoints := make(map[Endpoint]bool)

	if len(c.lookupds) > 0 {
		for _, e := range c.discover(c.cfg.Topic) {
			endpoints[e] = true
		}
	}
	for _, addr := range c.cfg.NSQDTCPAddresses {
		e, err := ParseEndpoint(addr)
		if err != nil {
			c.logf(LogLevelError, "%s", err)
			continue
		}
		endpoints[e] = true
	}

	for e := range endpoints {
		c.mu.RLock()
		existing, ok := c.connections[e]
		c.mu.RUnlock()

		switch {
		case !ok:
			c.logf(LogLevelInfo, "connecting to %s", e)
			c.connect(e.Host, e.Port)
		case !existing.Alive():
			// Known, not alive: policy is to leave reconnection to
			// whatever owns the table (spec.md §9 open question);
			// the core does not reopen it in place.
		default:
			c.logf(LogLevelDebug, "%s still alive", e)
		}
	}
}

// connect constructs and opens a Connection, then adds it to the
// table (spec.md §4.4).
func (c *Client) connect(host string, port int) *Connection {
	endpoint := Endpoint{Host: host, Port: port}
	conn := NewConnection(endpoint, c.cfg)
	if err := conn.Open(); err != nil {
		c.logf(LogLevelError, "connect to %s: %s", endpoint, err)
		return nil
	}
	c.debugDump("identify "+endpoint.String(), conn.IdentifyResponse())
	return c.add(conn)
}

// add inserts conn under lock, returning it if newly inserted or nil
// if a connection for that Endpoint already exists (spec.md §4.4).
// Newly-inserted is the signal Reader uses to run per-connection setup.
func (c *Client) add(conn *Connection) *Connection {
	c.mu.Lock()
	if _, exists := c.connections[conn.Endpoint()]; exists {
		c.mu.Unlock()
		return nil
	}
	c.connections[conn.Endpoint()] = conn
	c.mu.Unlock()

	if c.afterAdd != nil {
		c.afterAdd(conn)
	}
	return conn
}

// remove removes and closes conn under lock. Idempotent.
func (c *Client) remove(conn *Connection) *Connection {
	c.mu.Lock()
	existing, ok := c.connections[conn.Endpoint()]
	if ok {
		delete(c.connections, conn.Endpoint())
	}
	c.mu.Unlock()
	if ok {
		c.closeConnection(existing)
	}
	return existing
}

func (c *Client) defaultCloseConnection(conn *Connection) {
	if err := conn.Close(); err != nil {
		c.logf(LogLevelWarning, "close %s: %s", conn, err)
	}
}

// Connections returns a snapshot of the table under lock.
func (c *Client) Connections() []*Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		out = append(out, conn)
	}
	return out
}

// Close removes every connection. Terminal.
func (c *Client) Close() {
	if c.stopDiscovery != nil {
		close(c.stopDiscovery)
		<-c.discoveryDone
	}
	for _, conn := range c.Connections() {
		c.remove(conn)
	}
}

// read is the multiplexer step (spec.md §4.4's eight-step algorithm).
func (c *Client) read() []Frame {
	live := make([]*Connection, 0)
	for _, conn := range c.Connections() {
		if conn.Alive() {
			live = append(live, conn)
		}
	}
	if len(live) == 0 {
		return nil
	}

	writeSet := make(map[*Connection]bool)
	for _, conn := range live {
		if conn.Pending() {
			writeSet[conn] = true
		}
	}

	readable, writable, exceptional, err := waitReadiness(live, writeSet, c.cfg.Timeout)
	if err != nil {
		c.logf(LogLevelError, "readiness wait: %s", err)
		return nil
	}
	if len(readable) == 0 && len(writable) == 0 && len(exceptional) == 0 {
		c.logf(LogLevelDebug, "timed out...")
		return nil
	}

	var frames []Frame
	for _, conn := range readable {
		frs, err := conn.read()
		for _, f := range frs {
			switch fr := f.(type) {
			case ResponseFrame:
				if fr.IsHeartbeat() {
					c.logf(LogLevelDebug, "heartbeat from %s", conn)
					conn.nop()
					continue
				}
				frames = append(frames, f)
			case ErrorFrame:
				if fr.Fatal() {
					c.logf(LogLevelError, "closing %s: %s", conn, fr)
					c.remove(conn)
				}
				frames = append(frames, f)
			default:
				frames = append(frames, f)
			}
		}
		if err != nil {
			c.logf(LogLevelError, "read from %s: %s", conn, err)
			c.remove(conn)
		}
	}

	for _, conn := range writable {
		if err := conn.flush(); err != nil {
			c.logf(LogLevelError, "flush to %s: %s", conn, err)
			c.remove(conn)
		}
	}

	for _, conn := range exceptional {
		c.remove(conn)
	}

	return frames
}

// runDiscoveryLoop resolves spec.md §9's discovery-cadence open
// question: when Config.LookupdPollInterval is non-zero, it drives
// checkConnections on that interval from a goroutine of its own
// (never from inside read's select wait), per SPEC_FULL.md §D.
func (c *Client) runDiscoveryLoop() {
	defer close(c.discoveryDone)
	ticker := time.NewTicker(c.cfg.LookupdPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.checkConnections()
		case <-c.stopDiscovery:
			return
		}
	}
}
