package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestDecodeLinePosition(t *testing.T) {
	now := time.Now()

	pkt, err := decodeLine("POS KD9XYZ-1 45.1234 -93.5678", now)
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}

	if pkt.Kind != PacketPosition || pkt.Origin != "KD9XYZ-1" || pkt.Lat != 45.1234 || pkt.Lon != -93.5678 {
		t.Fatalf("pkt = %+v", pkt)
	}
}

func TestDecodeLineText(t *testing.T) {
	pkt, err := decodeLine("TXT KD9XYZ-1 #osmnote pothole", time.Now())
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}

	if pkt.Kind != PacketText || pkt.Origin != "KD9XYZ-1" || pkt.Text != "#osmnote pothole" {
		t.Fatalf("pkt = %+v", pkt)
	}
}

func TestDecodeLineTextEmptyBody(t *testing.T) {
	pkt, err := decodeLine("TXT KD9XYZ-1", time.Now())
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}

	if pkt.Text != "" {
		t.Fatalf("pkt.Text = %q, want empty", pkt.Text)
	}
}

func TestDecodeLineMalformed(t *testing.T) {
	cases := []string{"", "GARBAGE", "POS ONLYORIGIN"}

	for _, line := range cases {
		if _, err := decodeLine(line, time.Now()); err == nil {
			t.Errorf("decodeLine(%q) should have failed", line)
		}
	}
}

func TestSplitFrames(t *testing.T) {
	frames := splitFrames("abcdefghij", 4)

	want := []string{"abcd", "efgh", "ij"}
	if len(frames) != len(want) {
		t.Fatalf("frames = %v, want %v", frames, want)
	}

	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frames[%d] = %q, want %q", i, frames[i], want[i])
		}
	}
}

func TestSplitFramesShortText(t *testing.T) {
	frames := splitFrames("hi", 128)
	if len(frames) != 1 || frames[0] != "hi" {
		t.Fatalf("frames = %v", frames)
	}
}

// fakeSerialPort is an in-memory serialPort for testing SerialRadio
// without a real serial device.
type fakeSerialPort struct {
	mu       sync.Mutex
	written  [][]byte
	readBuf  *bytes.Buffer
	closed   bool
	writeErr error
}

func newFakeSerialPort(initial string) *fakeSerialPort {
	return &fakeSerialPort{readBuf: bytes.NewBufferString(initial)}
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}

	cp := make([]byte, len(p))
	copy(cp, p)
	f.written = append(f.written, cp)

	return len(p), nil
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, io.EOF
	}

	return f.readBuf.Read(p)
}

func (f *fakeSerialPort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func newTestRadio(t *testing.T, port serialPort) *SerialRadio {
	t.Helper()

	r := NewSerialRadio("/dev/fake", 0, log.New(io.Discard))
	r.openFunc = func(string, int) (serialPort, error) { return port, nil }

	return r
}

func TestSerialRadioSendDirectSplitsFrames(t *testing.T) {
	port := newFakeSerialPort("")
	r := newTestRadio(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, func() bool { return r.IsConnected() })

	longText := "this message is long enough that it should need more than one frame to transmit over the air, since the radio link only carries about one hundred and twenty bytes per frame"

	if ok := r.SendDirect("N0CALL", longText); !ok {
		t.Fatal("SendDirect returned false")
	}

	port.mu.Lock()
	frameCount := len(port.written)
	port.mu.Unlock()

	if frameCount < 2 {
		t.Fatalf("expected multiple frames written, got %d", frameCount)
	}
}

func TestSerialRadioSendFailsWhenDisconnected(t *testing.T) {
	r := NewSerialRadio("/dev/fake", 0, log.New(io.Discard))

	if ok := r.SendDirect("N0CALL", "hello"); ok {
		t.Fatal("SendDirect should fail when never connected")
	}
}

func TestSerialRadioReadLoopDecodesPackets(t *testing.T) {
	port := newFakeSerialPort("POS N0CALL 45.0 -93.0\nTXT N0CALL #osmhelp\n")
	r := newTestRadio(t, port)

	var mu sync.Mutex
	var got []Packet

	r.OnPacket(func(p Packet) {
		mu.Lock()
		defer mu.Unlock()

		got = append(got, p)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()

	if got[0].Kind != PacketPosition || got[1].Kind != PacketText {
		t.Fatalf("got = %+v", got)
	}

	if got[0].CorrelationID == "" || got[1].CorrelationID == "" {
		t.Fatal("expected a correlation id to be assigned to each decoded packet")
	}
}

func TestWriteWithTimeout(t *testing.T) {
	port := newFakeSerialPort("")

	if err := writeWithTimeout(port, []byte("hi"), time.Second); err != nil {
		t.Fatalf("writeWithTimeout: %v", err)
	}

	port.mu.Lock()
	port.writeErr = errors.New("boom")
	port.mu.Unlock()

	if err := writeWithTimeout(port, []byte("hi"), time.Second); err == nil {
		t.Fatal("expected error from writeWithTimeout")
	}
}

// waitUntil polls cond for up to one second, failing the test if it
// never becomes true. Used instead of a fixed sleep since SerialRadio's
// reconnect supervisor runs in its own goroutine.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition was never satisfied")
}
