package nsq

import "testing"

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if cfg.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, defaultTimeout)
	}
	if cfg.MaxInFlight != defaultMaxInFlight {
		t.Errorf("MaxInFlight = %d, want %d", cfg.MaxInFlight, defaultMaxInFlight)
	}
	if cfg.UserAgent == "" {
		t.Error("expected a non-empty default UserAgent")
	}
}

func TestConfigValidateRequiresTopicForLookupd(t *testing.T) {
	cfg := NewConfig()
	cfg.LookupdHTTPAddresses = []string{"127.0.0.1:4161"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected InvalidConfig when lookupd is set without a topic")
	}
	var nerr *Error
	if e, ok := err.(*Error); ok {
		nerr = e
	}
	if nerr == nil || nerr.Kind != ErrInvalidConfig {
		t.Fatalf("got %v, want an *Error with Kind ErrInvalidConfig", err)
	}

	cfg.Topic = "test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error once Topic is set: %s", err)
	}
}

func TestConfigValidateRejectsNonPositiveTimeout(t *testing.T) {
	cfg := NewConfig()
	cfg.Timeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a zero Timeout")
	}
}

func TestIdentifyPayloadCarriesOptions(t *testing.T) {
	cfg := NewConfig()
	cfg.ShortIdentifier = "short"
	cfg.LongIdentifier = "long.example.com"
	cfg.Snappy = true

	payload := cfg.identifyPayload()
	if payload["short_id"] != "short" {
		t.Errorf("short_id = %v, want %q", payload["short_id"], "short")
	}
	if payload["snappy"] != true {
		t.Errorf("snappy = %v, want true", payload["snappy"])
	}
}
