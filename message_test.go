package nsq

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int64(9999))
	binary.Write(&buf, binary.BigEndian, uint16(3))
	var id MessageID
	copy(id[:], "abcdef0123456789")
	buf.Write(id[:])
	buf.WriteString("payload")

	m, err := decodeMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if m.Timestamp != 9999 || m.Attempts != 3 || string(m.Body) != "payload" || m.ID != id {
		t.Fatalf("got %+v", m)
	}
}

func TestDecodeMessageTooShort(t *testing.T) {
	if _, err := decodeMessage([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a too-short message payload")
	}
}

func TestDecodeMessageEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int64(1))
	binary.Write(&buf, binary.BigEndian, uint16(0))
	var id MessageID
	buf.Write(id[:])

	m, err := decodeMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(m.Body) != 0 {
		t.Fatalf("Body = %q, want empty", m.Body)
	}
}

// TestMessageAckNoOriginIsNoop exercises Fin/Req/Touch with no origin Connection at
// all (origin == nil), the same no-op path taken once origin.Alive()
// is false. None of the three may panic.
func TestMessageAckNoOriginIsNoop(t *testing.T) {
	m := &Message{ID: MessageID{1}}
	m.Fin()
	m.Req(1000)
	m.Touch()
}

func TestMessageAckDeadOriginIsNoop(t *testing.T) {
	conn := NewConnection(Endpoint{Host: "127.0.0.1", Port: 4150}, NewConfig())
	m := &Message{ID: MessageID{1}, origin: conn}
	// conn was never Open()'d, so it is never Alive(); all three acks
	// must take the logged no-op path rather than touching conn.send.
	m.Fin()
	m.Req(1000)
	m.Touch()
}
