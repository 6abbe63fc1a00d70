// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire-format constants. All integers are little-endian. Fixed-width
// string fields are NUL-padded and trimmed on decode.
const (
	// ProtocolVersion is the gossip wire protocol version.
	ProtocolVersion = 1

	// NodeIDSize is the fixed width of node ID fields.
	NodeIDSize = 64

	// AddressSize is the fixed width of address fields in sync entries.
	AddressSize = 64

	// headerSize is version + type + payload_len + seq + sender_id + incarnation.
	headerSize = 1 + 1 + 2 + 4 + NodeIDSize + 4

	// syncEntrySize is id + address + port + state + incarnation + is_main_node.
	syncEntrySize = NodeIDSize + AddressSize + 2 + 1 + 4 + 1

	// MaxDatagramSize caps every gossip datagram.
	MaxDatagramSize = 1400

	// MaxSyncEntries caps roster entries per sync message.
	MaxSyncEntries = 50

	// maxAckPayload caps the opaque ack payload.
	maxAckPayload = 1024
)

// MessageType identifies a gossip message.
type MessageType uint8

const (
	// MsgPing is a direct liveness probe.
	MsgPing MessageType = iota
	// MsgPingReq asks a peer to probe a target indirectly.
	MsgPingReq
	// MsgAck answers a probe.
	MsgAck
	// MsgSync carries a batch of roster entries.
	MsgSync
	// MsgCompound wraps several messages in one datagram.
	MsgCompound
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgPingReq:
		return "ping_req"
	case MsgAck:
		return "ack"
	case MsgSync:
		return "sync"
	case MsgCompound:
		return "compound"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Codec errors.
var (
	ErrMessageTooShort    = errors.New("gossip message too short")
	ErrUnsupportedVersion = errors.New("unsupported gossip protocol version")
	ErrUnknownMessageType = errors.New("unknown gossip message type")
	ErrTruncatedMessage   = errors.New("gossip message truncated")
	ErrMessageTooLarge    = errors.New("gossip message exceeds datagram size")
)

// Header is the fixed message prefix.
type Header struct {
	Version     uint8
	Type        MessageType
	PayloadLen  uint16
	Seq         uint32
	SenderID    string
	Incarnation uint32
}

// Ping probes a single target.
type Ping struct {
	Header
	TargetID string
}

// PingReq asks the receiver to probe TargetID on behalf of SourceID.
type PingReq struct {
	Header
	TargetID string
	SourceID string
}

// Ack confirms liveness of TargetID. Payload is opaque piggyback data.
type Ack struct {
	Header
	TargetID string
	Payload  []byte
}

// NodeUpdate is one roster entry inside a Sync.
type NodeUpdate struct {
	ID          string
	Address     string
	Port        uint16
	State       NodeState
	Incarnation uint32
	IsLeader    bool
}

// Sync carries a batch of roster entries.
type Sync struct {
	Header
	Nodes []NodeUpdate
}

// Compound wraps several encoded messages in one datagram.
type Compound struct {
	Header
	Messages [][]byte
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func fixedString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

func encodeHeader(dst []byte, h *Header, payloadLen int) {
	dst[0] = h.Version
	dst[1] = uint8(h.Type)
	binary.LittleEndian.PutUint16(dst[2:4], uint16(payloadLen))
	binary.LittleEndian.PutUint32(dst[4:8], h.Seq)
	putFixedString(dst[8:8+NodeIDSize], h.SenderID)
	binary.LittleEndian.PutUint32(dst[8+NodeIDSize:headerSize], h.Incarnation)
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, ErrMessageTooShort
	}
	h := Header{
		Version:     data[0],
		Type:        MessageType(data[1]),
		PayloadLen:  binary.LittleEndian.Uint16(data[2:4]),
		Seq:         binary.LittleEndian.Uint32(data[4:8]),
		SenderID:    fixedString(data[8 : 8+NodeIDSize]),
		Incarnation: binary.LittleEndian.Uint32(data[8+NodeIDSize : headerSize]),
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrUnsupportedVersion
	}
	if int(h.PayloadLen) > len(data)-headerSize {
		return Header{}, ErrTruncatedMessage
	}
	return h, nil
}

// Encode serializes a Ping.
func (m *Ping) Encode() []byte {
	buf := make([]byte, headerSize+NodeIDSize)
	m.Header.Type = MsgPing
	m.Header.Version = ProtocolVersion
	encodeHeader(buf, &m.Header, NodeIDSize)
	putFixedString(buf[headerSize:], m.TargetID)
	return buf
}

// Encode serializes a PingReq.
func (m *PingReq) Encode() []byte {
	buf := make([]byte, headerSize+2*NodeIDSize)
	m.Header.Type = MsgPingReq
	m.Header.Version = ProtocolVersion
	encodeHeader(buf, &m.Header, 2*NodeIDSize)
	putFixedString(buf[headerSize:headerSize+NodeIDSize], m.TargetID)
	putFixedString(buf[headerSize+NodeIDSize:], m.SourceID)
	return buf
}

// Encode serializes an Ack.
func (m *Ack) Encode() ([]byte, error) {
	if len(m.Payload) > maxAckPayload {
		return nil, ErrMessageTooLarge
	}
	payloadLen := NodeIDSize + 2 + len(m.Payload)
	buf := make([]byte, headerSize+payloadLen)
	m.Header.Type = MsgAck
	m.Header.Version = ProtocolVersion
	encodeHeader(buf, &m.Header, payloadLen)
	putFixedString(buf[headerSize:headerSize+NodeIDSize], m.TargetID)
	binary.LittleEndian.PutUint16(buf[headerSize+NodeIDSize:], uint16(len(m.Payload)))
	copy(buf[headerSize+NodeIDSize+2:], m.Payload)
	return buf, nil
}

// Encode serializes a Sync. Entries beyond MaxSyncEntries are an error;
// callers batch instead.
func (m *Sync) Encode() ([]byte, error) {
	if len(m.Nodes) > MaxSyncEntries {
		return nil, ErrMessageTooLarge
	}
	payloadLen := 4 + len(m.Nodes)*syncEntrySize
	if headerSize+payloadLen > MaxDatagramSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, headerSize+payloadLen)
	m.Header.Type = MsgSync
	m.Header.Version = ProtocolVersion
	encodeHeader(buf, &m.Header, payloadLen)
	binary.LittleEndian.PutUint32(buf[headerSize:], uint32(len(m.Nodes)))
	off := headerSize + 4
	for i := range m.Nodes {
		e := &m.Nodes[i]
		putFixedString(buf[off:off+NodeIDSize], e.ID)
		putFixedString(buf[off+NodeIDSize:off+NodeIDSize+AddressSize], e.Address)
		binary.LittleEndian.PutUint16(buf[off+NodeIDSize+AddressSize:], e.Port)
		buf[off+NodeIDSize+AddressSize+2] = uint8(e.State)
		binary.LittleEndian.PutUint32(buf[off+NodeIDSize+AddressSize+3:], e.Incarnation)
		if e.IsLeader {
			buf[off+syncEntrySize-1] = 1
		}
		off += syncEntrySize
	}
	return buf, nil
}

// Encode serializes a Compound.
func (m *Compound) Encode() ([]byte, error) {
	payloadLen := 1
	for _, sub := range m.Messages {
		payloadLen += 2 + len(sub)
	}
	if headerSize+payloadLen > MaxDatagramSize || len(m.Messages) > 255 {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, headerSize+payloadLen)
	m.Header.Type = MsgCompound
	m.Header.Version = ProtocolVersion
	encodeHeader(buf, &m.Header, payloadLen)
	buf[headerSize] = uint8(len(m.Messages))
	off := headerSize + 1
	for _, sub := range m.Messages {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(sub)))
		copy(buf[off+2:], sub)
		off += 2 + len(sub)
	}
	return buf, nil
}

// Decode parses one gossip message. The returned value is one of
// *Ping, *PingReq, *Ack, *Sync, or *Compound.
func Decode(data []byte) (any, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[headerSize : headerSize+int(h.PayloadLen)]

	switch h.Type {
	case MsgPing:
		if len(body) < NodeIDSize {
			return nil, ErrTruncatedMessage
		}
		return &Ping{Header: h, TargetID: fixedString(body[:NodeIDSize])}, nil

	case MsgPingReq:
		if len(body) < 2*NodeIDSize {
			return nil, ErrTruncatedMessage
		}
		return &PingReq{
			Header:   h,
			TargetID: fixedString(body[:NodeIDSize]),
			SourceID: fixedString(body[NodeIDSize : 2*NodeIDSize]),
		}, nil

	case MsgAck:
		if len(body) < NodeIDSize+2 {
			return nil, ErrTruncatedMessage
		}
		plen := int(binary.LittleEndian.Uint16(body[NodeIDSize:]))
		if plen > len(body)-NodeIDSize-2 {
			return nil, ErrTruncatedMessage
		}
		payload := make([]byte, plen)
		copy(payload, body[NodeIDSize+2:NodeIDSize+2+plen])
		return &Ack{Header: h, TargetID: fixedString(body[:NodeIDSize]), Payload: payload}, nil

	case MsgSync:
		if len(body) < 4 {
			return nil, ErrTruncatedMessage
		}
		count := int(binary.LittleEndian.Uint32(body[:4]))
		if count > MaxSyncEntries || len(body) < 4+count*syncEntrySize {
			return nil, ErrTruncatedMessage
		}
		nodes := make([]NodeUpdate, 0, count)
		off := 4
		for i := 0; i < count; i++ {
			e := NodeUpdate{
				ID:          fixedString(body[off : off+NodeIDSize]),
				Address:     fixedString(body[off+NodeIDSize : off+NodeIDSize+AddressSize]),
				Port:        binary.LittleEndian.Uint16(body[off+NodeIDSize+AddressSize:]),
				State:       NodeState(body[off+NodeIDSize+AddressSize+2]),
				Incarnation: binary.LittleEndian.Uint32(body[off+NodeIDSize+AddressSize+3:]),
				IsLeader:    body[off+syncEntrySize-1] == 1,
			}
			nodes = append(nodes, e)
			off += syncEntrySize
		}
		return &Sync{Header: h, Nodes: nodes}, nil

	case MsgCompound:
		if len(body) < 1 {
			return nil, ErrTruncatedMessage
		}
		count := int(body[0])
		msgs := make([][]byte, 0, count)
		off := 1
		for i := 0; i < count; i++ {
			if len(body) < off+2 {
				return nil, ErrTruncatedMessage
			}
			sublen := int(binary.LittleEndian.Uint16(body[off:]))
			if len(body) < off+2+sublen {
				return nil, ErrTruncatedMessage
			}
			sub := make([]byte, sublen)
			copy(sub, body[off+2:off+2+sublen])
			msgs = append(msgs, sub)
			off += 2 + sublen
		}
		return &Compound{Header: h, Messages: msgs}, nil

	default:
		return nil, ErrUnknownMessageType
	}
}
