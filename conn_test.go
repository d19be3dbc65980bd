package nsq

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// acceptOnceWithResponse accepts a single connection, reads the magic
// bytes and one IDENTIFY command, replies with the given raw response
// payload (a bare "OK" or a JSON capabilities body), then leaves the
// connection open for the caller to drive further.
func acceptOnceWithResponse(t *testing.T, identifyResponse []byte) (addr string, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	done = make(chan struct{})

	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		magic := make([]byte, 4)
		if _, err := io.ReadFull(conn, magic); err != nil {
			return
		}
		if string(magic) != string(MagicV2) {
			return
		}

		r := bufio.NewReader(conn)
		if _, _, _, err := readCommand(r); err != nil {
			return
		}

		buf := make([]byte, 8+len(identifyResponse))
		binary.BigEndian.PutUint32(buf[0:4], uint32(4+len(identifyResponse)))
		binary.BigEndian.PutUint32(buf[4:8], uint32(FrameTypeResponse))
		copy(buf[8:], identifyResponse)
		conn.Write(buf)

		// Keep the connection open briefly so Open()'s caller can
		// observe the Alive state before the listener tears down.
		time.Sleep(100 * time.Millisecond)
	}()

	return ln.Addr().String(), done
}

func TestConnectionOpenBareOK(t *testing.T) {
	addr, done := acceptOnceWithResponse(t, []byte("OK"))
	defer func() { <-done }()

	endpoint, err := ParseEndpoint(addr)
	if err != nil {
		t.Fatalf("ParseEndpoint: %s", err)
	}
	conn := NewConnection(endpoint, testProducerConfig())
	if err := conn.Open(); err != nil {
		t.Fatalf("Open: %s", err)
	}
	if !conn.Alive() {
		t.Fatal("expected the connection to be Alive after a bare OK handshake")
	}
	if conn.MaxRdyCount() != defaultMaxRdyCount {
		t.Fatalf("MaxRdyCount() = %d, want the default %d (no negotiated override)", conn.MaxRdyCount(), defaultMaxRdyCount)
	}
	conn.Close()
}

func TestConnectionOpenNegotiatesMaxRdyCount(t *testing.T) {
	addr, done := acceptOnceWithResponse(t, []byte(`{"max_rdy_count":42}`))
	defer func() { <-done }()

	endpoint, err := ParseEndpoint(addr)
	if err != nil {
		t.Fatalf("ParseEndpoint: %s", err)
	}
	conn := NewConnection(endpoint, testProducerConfig())
	if err := conn.Open(); err != nil {
		t.Fatalf("Open: %s", err)
	}
	if conn.MaxRdyCount() != 42 {
		t.Fatalf("MaxRdyCount() = %d, want 42", conn.MaxRdyCount())
	}
	conn.Close()
}

func TestConnectionOpenFailsOnUnreachableAddress(t *testing.T) {
	cfg := testProducerConfig()
	cfg.DialTimeout = 200 * time.Millisecond
	conn := NewConnection(Endpoint{Host: "127.0.0.1", Port: 1}, cfg)
	if err := conn.Open(); err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
	if conn.Alive() {
		t.Fatal("connection must not be Alive after a failed Open")
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	conn := NewConnection(Endpoint{Host: "127.0.0.1", Port: 4150}, NewConfig())
	if err := conn.Close(); err != nil {
		t.Fatalf("Close on a never-opened connection: %s", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %s", err)
	}
}
