package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeStreamFrame(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantPayload []byte
		wantErr     error
	}{
		{
			name:    "too short",
			data:    []byte{0x94, 0xC3},
			wantErr: ErrFrameTooShort,
		},
		{
			name:    "invalid magic",
			data:    []byte{0x00, 0x00, 0x00, 0x00, 0x00},
			wantErr: ErrInvalidMagic,
		},
		{
			name:    "incomplete frame",
			data:    []byte{0x94, 0xC3, 0x00, 0x05, 0x01, 0x02}, // Says 5 bytes payload but only 2 provided
			wantErr: ErrIncompleteFrame,
		},
		{
			name:    "payload too large",
			data:    []byte{0x94, 0xC3, 0x02, 0x01},
			wantErr: ErrPayloadTooLarge,
		},
		{
			name:        "empty payload",
			data:        []byte{0x94, 0xC3, 0x00, 0x00},
			wantPayload: []byte{},
		},
		{
			name:        "simple payload",
			data:        []byte{0x94, 0xC3, 0x00, 0x02, 0x08, 0x01},
			wantPayload: []byte{0x08, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, _, err := DecodeStreamFrame(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("DecodeStreamFrame() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeStreamFrame() unexpected error = %v", err)
			}
			if !bytes.Equal(frame.Payload, tt.wantPayload) {
				t.Errorf("DecodeStreamFrame() payload = %v, want %v", frame.Payload, tt.wantPayload)
			}
		})
	}
}

func TestEncodeDecodeStreamFrame(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: []byte{}},
		{name: "single byte", payload: []byte{0x42}},
		{name: "max size payload", payload: make([]byte, MaxStreamPayload)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := EncodeStreamFrame(tc.payload)
			if err != nil {
				t.Fatalf("EncodeStreamFrame() error = %v", err)
			}
			if len(encoded) != FrameHeaderSize+len(tc.payload) {
				t.Errorf("encoded length = %d, want %d", len(encoded), FrameHeaderSize+len(tc.payload))
			}

			frame, remaining, err := DecodeStreamFrame(encoded)
			if err != nil {
				t.Fatalf("DecodeStreamFrame() error = %v", err)
			}
			if !bytes.Equal(frame.Payload, tc.payload) {
				t.Errorf("decoded payload = %v, want %v", frame.Payload, tc.payload)
			}
			if len(remaining) != 0 {
				t.Errorf("remaining bytes = %d, want 0", len(remaining))
			}
		})
	}
}

func TestEncodeStreamFrameTooLarge(t *testing.T) {
	_, err := EncodeStreamFrame(make([]byte, MaxStreamPayload+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("EncodeStreamFrame() error = %v, want %v", err, ErrPayloadTooLarge)
	}
}

func TestDecodeStreamFrameWithRemaining(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	encoded, _ := EncodeStreamFrame(payload)

	extra := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frame, remaining, err := DecodeStreamFrame(append(encoded, extra...))
	if err != nil {
		t.Fatalf("DecodeStreamFrame() error = %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("decoded payload = %v, want %v", frame.Payload, payload)
	}
	if !bytes.Equal(remaining, extra) {
		t.Errorf("remaining = %v, want %v", remaining, extra)
	}
}

func TestFindStreamMagic(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{name: "magic at start", data: []byte{0x94, 0xC3, 0x05}, want: 0},
		{name: "magic after console text", data: []byte("INFO boot\n\x94\xC3"), want: 10},
		{name: "no magic", data: []byte{0x00, 0x01, 0x02, 0x03}, want: -1},
		{name: "partial magic at end", data: []byte{0x00, 0x94}, want: -1},
		{name: "empty", data: []byte{}, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindStreamMagic(tt.data); got != tt.want {
				t.Errorf("FindStreamMagic() = %d, want %d", got, tt.want)
			}
		})
	}
}
