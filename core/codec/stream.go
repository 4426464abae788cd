// Package codec implements the subset of the Meshtastic client API that the
// LNA test engine needs: stream framing and the protobuf messages exchanged
// with the radio (ToRadio, FromRadio, MeshPacket, AdminMessage,
// RouteDiscovery).
//
// Messages are encoded and decoded field by field with protowire. Fields that
// are not modelled are skipped on decode; LoRaConfig additionally keeps them
// so that a fetched config can be written back without losing settings.
package codec

import (
	"encoding/binary"
	"errors"
)

const (
	// StreamStart1 and StreamStart2 are the two bytes that open every frame
	// on the serial and TCP stream APIs.
	StreamStart1 = 0x94
	StreamStart2 = 0xC3
	// StreamMagic is StreamStart1 and StreamStart2 read as a big-endian uint16.
	StreamMagic uint16 = StreamStart1<<8 | StreamStart2
	// MaxStreamPayload is the largest protobuf payload the firmware accepts.
	MaxStreamPayload = 512
	// FrameHeaderSize is the size of the frame header (magic 2 + length 2).
	FrameHeaderSize = 4
)

var (
	ErrFrameTooShort   = errors.New("frame too short")
	ErrInvalidMagic    = errors.New("invalid frame magic")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// StreamFrame is one decoded frame from the stream API.
type StreamFrame struct {
	Payload []byte
}

// DecodeStreamFrame decodes a frame from the start of data.
// Returns the decoded frame, any remaining bytes after the frame, and an error if decoding failed.
// Frame format: [0x94 0xC3][length (2 bytes BE)][protobuf payload (length bytes)]
func DecodeStreamFrame(data []byte) (*StreamFrame, []byte, error) {
	if len(data) < FrameHeaderSize {
		return nil, data, ErrFrameTooShort
	}

	if binary.BigEndian.Uint16(data[0:2]) != StreamMagic {
		return nil, data, ErrInvalidMagic
	}

	payloadLen := int(binary.BigEndian.Uint16(data[2:4]))
	if payloadLen > MaxStreamPayload {
		return nil, data, ErrPayloadTooLarge
	}

	total := FrameHeaderSize + payloadLen
	if len(data) < total {
		return nil, data, ErrIncompleteFrame
	}

	frame := &StreamFrame{
		Payload: make([]byte, payloadLen),
	}
	copy(frame.Payload, data[FrameHeaderSize:total])

	return frame, data[total:], nil
}

// EncodeStreamFrame wraps payload in a stream API frame.
func EncodeStreamFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxStreamPayload {
		return nil, ErrPayloadTooLarge
	}

	frame := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], StreamMagic)
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[FrameHeaderSize:], payload)

	return frame, nil
}

// FindStreamMagic returns the index of the first frame start in data, or -1
// if none is present. The radio interleaves plain-text console output with
// frames on serial links, so readers resynchronise with this.
func FindStreamMagic(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == StreamStart1 && data[i+1] == StreamStart2 {
			return i
		}
	}
	return -1
}
