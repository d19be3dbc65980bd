package nsq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// MsgIDLength is the number of bytes in a Message.ID.
const MsgIDLength = 16

// MessageID is the 16-byte identifier nsqd assigns a message.
type MessageID [MsgIDLength]byte

// Message is the unit delivered to the application (spec.md §4.6).
// Origin is a weak back-reference to the Connection it arrived on,
// used only to route Fin/Req/Touch; it does not keep the Connection
// alive and is never dereferenced for ownership.
type Message struct {
	ID        MessageID
	Timestamp int64
	Attempts  uint16
	Body      []byte

	origin *Connection
}

// decodeMessage parses the wire layout spec.md §6 defines:
// <8-byte timestamp><2-byte attempts><16-byte id><body>.
func decodeMessage(data []byte) (*Message, error) {
	if len(data) < 8+2+MsgIDLength {
		return nil, fmt.Errorf("nsq: message frame too short (%d bytes)", len(data))
	}
	buf := bytes.NewReader(data)

	var m Message
	if err := binary.Read(buf, binary.BigEndian, &m.Timestamp); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.BigEndian, &m.Attempts); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(buf, m.ID[:]); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(buf)
	if err != nil {
		return nil, err
	}
	m.Body = body
	return &m, nil
}

// Fin sends FIN(id) on the originating Connection, acknowledging
// successful processing. A no-op (logged at warning) if the origin
// is no longer alive; nsqd will time the message out on its own.
func (m *Message) Fin() {
	if m.origin == nil || !m.origin.Alive() {
		logWarning("FIN %x: origin connection no longer alive", m.ID)
		return
	}
	m.origin.send(Finish(m.ID))
}

// Req sends REQ(id, timeout) on the originating Connection, asking
// nsqd to requeue the message after the given delay.
func (m *Message) Req(timeout int64) {
	if m.origin == nil || !m.origin.Alive() {
		logWarning("REQ %x: origin connection no longer alive", m.ID)
		return
	}
	m.origin.send(Requeue(m.ID, msToDuration(timeout)))
}

// Touch sends TOUCH(id) on the originating Connection, resetting the
// in-flight timeout nsqd enforces for this message.
func (m *Message) Touch() {
	if m.origin == nil || !m.origin.Alive() {
		logWarning("TOUCH %x: origin connection no longer alive", m.ID)
		return
	}
	m.origin.send(Touch(m.ID))
}
