package nsq

import "time"

// version is reported as part of the default UserAgent, matching the
// Godeps-vendored writer.go's fmt.Sprintf("go-nsq/%s", VERSION) convention.
const version = "1.0.0"

// defaults for fields spec.md §4.4 and §3 name.
const (
	defaultTimeout        = 100 * time.Millisecond
	defaultMaxRdyCount    = 2500
	defaultDialTimeout    = time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultWriteTimeout   = time.Second
	defaultHeartbeat      = 30 * time.Second
	defaultMaxInFlight    = 1
	defaultDeflateLevel   = 6
	defaultOutputBufSize  = 16 * 1024
	defaultOutputBufTimeo = 250 * time.Millisecond
)

// Config is the enumerated configuration spec.md §4.4 describes, plus
// the identify pass-through options §6 mentions.
type Config struct {
	// LookupdHTTPAddresses is the list of nsqlookupd HTTP addresses to
	// discover producers from. If non-empty, Topic is required.
	LookupdHTTPAddresses []string
	// NSQDTCPAddresses is the list of statically configured nsqd
	// endpoints, always connected regardless of discovery.
	NSQDTCPAddresses []string
	// Topic is required when LookupdHTTPAddresses is non-empty.
	Topic string

	// Timeout bounds the readiness wait in Client.read (default 100ms).
	Timeout time.Duration

	// LookupdPollInterval, when non-zero, drives a periodic discovery
	// sweep beyond the construction-time call (spec.md §9 open question).
	LookupdPollInterval time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxInFlight is a global in-flight budget setting. Reader does not
	// read it: NewReader takes the budget it distributes as RDY credit
	// as its own maxInFlight argument.
	MaxInFlight int

	// identify pass-through options (spec.md §4.2, §6)
	ShortIdentifier     string
	LongIdentifier      string
	HeartbeatInterval   time.Duration
	UserAgent           string
	TLSv1               bool
	Deflate             bool
	DeflateLevel        int
	Snappy              bool
	OutputBufferSize    int64
	OutputBufferTimeout time.Duration
	SampleRate          int32
}

// NewConfig returns a Config with every default spec.md or the teacher's
// own Writer/Conn constructors apply.
func NewConfig() *Config {
	return &Config{
		Timeout:             defaultTimeout,
		DialTimeout:         defaultDialTimeout,
		ReadTimeout:         defaultReadTimeout,
		WriteTimeout:        defaultWriteTimeout,
		MaxInFlight:         defaultMaxInFlight,
		HeartbeatInterval:   defaultHeartbeat,
		UserAgent:           "go-nsq/" + version,
		DeflateLevel:        defaultDeflateLevel,
		OutputBufferSize:    defaultOutputBufSize,
		OutputBufferTimeout: defaultOutputBufTimeo,
	}
}

// Validate enforces spec.md §6's construction-time precondition.
func (c *Config) Validate() error {
	if len(c.LookupdHTTPAddresses) > 0 && c.Topic == "" {
		return newErr(ErrInvalidConfig, "topic is required when lookupd_http_addresses is set")
	}
	if c.Timeout <= 0 {
		return newErr(ErrInvalidConfig, "timeout must be positive")
	}
	return nil
}

// identifyPayload builds the IDENTIFY command body from the
// configured pass-through options.
func (c *Config) identifyPayload() map[string]interface{} {
	return map[string]interface{}{
		"short_id":              c.ShortIdentifier,
		"long_id":               c.LongIdentifier,
		"tls_v1":                c.TLSv1,
		"deflate":               c.Deflate,
		"deflate_level":         c.DeflateLevel,
		"snappy":                c.Snappy,
		"feature_negotiation":   true,
		"heartbeat_interval":    int64(c.HeartbeatInterval / time.Millisecond),
		"sample_rate":           c.SampleRate,
		"user_agent":            c.UserAgent,
		"output_buffer_size":    c.OutputBufferSize,
		"output_buffer_timeout": int64(c.OutputBufferTimeout / time.Millisecond),
	}
}
