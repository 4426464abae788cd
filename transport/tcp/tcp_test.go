package tcp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/kabili207/lnatest/core/codec"
)

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Host: "192.168.1.100"})
	if tr.cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", tr.cfg.Port, DefaultPort)
	}
	if tr.cfg.DialTimeout != DefaultDialTimeout {
		t.Errorf("DialTimeout = %v, want %v", tr.cfg.DialTimeout, DefaultDialTimeout)
	}
	if got := tr.Addr(); got != "192.168.1.100:4403" {
		t.Errorf("Addr() = %q", got)
	}
	if got := New(Config{Host: "::1", Port: 1}).Addr(); got != "[::1]:1" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestConnect_RequiresHost(t *testing.T) {
	tr := New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if _, err := tr.Connect(context.Background()); err == nil {
		t.Error("expected error without host")
	}
}

// TestConnect_Loopback runs the handshake against a minimal radio on a
// loopback listener.
func TestConnect_Loopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback listener unavailable: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var pending []byte
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			pending = append(pending, buf[:n]...)
			frame, rest, ferr := codec.DecodeStreamFrame(pending)
			if ferr != nil {
				continue
			}
			pending = rest
			msg, _ := codec.UnmarshalToRadio(frame.Payload)
			if msg != nil && msg.WantConfigID != 0 {
				reply := (&codec.FromRadio{ConfigCompleteID: msg.WantConfigID}).Marshal()
				out, _ := codec.EncodeStreamFrame(reply)
				conn.Write(out)
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New(Config{
		Host:          "127.0.0.1",
		Port:          addr.Port,
		ConfigTimeout: 2 * time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	frames, err := tr.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if frames == nil {
		t.Fatal("Connect() returned nil channel")
	}
	if err := tr.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}
