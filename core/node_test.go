package core

import (
	"errors"
	"testing"
)

func TestNodeIDString(t *testing.T) {
	if got := NodeID(0x2a).String(); got != "!0000002a" {
		t.Errorf("String() = %s, want !0000002a", got)
	}
	if got := Broadcast.String(); got != "!ffffffff" {
		t.Errorf("Broadcast.String() = %s, want !ffffffff", got)
	}
}

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    NodeID
		wantErr bool
	}{
		{name: "bang hex", input: "!0000002a", want: 0x2a},
		{name: "bang hex uppercase", input: "!DEADBEEF", want: 0xdeadbeef},
		{name: "0x prefix", input: "0x2A", want: 0x2a},
		{name: "0X prefix", input: "0X2a", want: 0x2a},
		{name: "decimal", input: "42", want: 42},
		{name: "surrounding space", input: " 42 ", want: 42},
		{name: "broadcast", input: "broadcast", want: Broadcast},
		{name: "broadcast mixed case", input: "BroadCast", want: Broadcast},
		{name: "empty", input: "", wantErr: true},
		{name: "bang only", input: "!", wantErr: true},
		{name: "bad hex", input: "!zz", wantErr: true},
		{name: "overflow", input: "!100000000", wantErr: true},
		{name: "negative decimal", input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNodeID(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseNodeID(%q) expected error", tt.input)
				}
				if !errors.Is(err, ErrInvalidNodeID) {
					t.Errorf("error = %v, want ErrInvalidNodeID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNodeID(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseNodeID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeNodeID_Equivalence(t *testing.T) {
	for _, in := range []string{"!0000002a", "42", "0x2A"} {
		got, err := NormalizeNodeID(in)
		if err != nil {
			t.Fatalf("NormalizeNodeID(%q): %v", in, err)
		}
		if got != "!0000002a" {
			t.Errorf("NormalizeNodeID(%q) = %s, want !0000002a", in, got)
		}
	}
}

func TestParseOptionalNodeID(t *testing.T) {
	if _, ok := ParseOptionalNodeID(""); ok {
		t.Error("empty string should not be present")
	}
	if _, ok := ParseOptionalNodeID("nonsense"); ok {
		t.Error("invalid id should not be present")
	}
	id, ok := ParseOptionalNodeID("!00000001")
	if !ok || id != 1 {
		t.Errorf("ParseOptionalNodeID = (%v, %v), want (1, true)", id, ok)
	}
}
