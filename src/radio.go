package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Bidirectional packet boundary to the radio modem;
 *		reconnect loop (C6).
 *
 * Description:	The wire framing of the radio link itself is out of
 *		scope (spec.md §1) — a modem library is assumed to
 *		decode raw RF into the lines this adapter reads and to
 *		accept the lines this adapter writes. The serial
 *		endpoint handling (open/read/write/close) follows the
 *		teacher's own serial_port.go, built on pkg/term.
 *
 *------------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
	"github.com/rs/xid"
)

// PacketKind distinguishes the two inbound packet shapes the modem
// library surfaces.
type PacketKind int

const (
	PacketText PacketKind = iota
	PacketPosition
)

// Packet is the decoded inbound radio packet (§9's "dynamic message
// envelope").
type Packet struct {
	Kind          PacketKind
	Origin        string
	Text          string
	Lat           float64
	Lon           float64
	ReceivedAt    time.Time
	CorrelationID string // assigned on decode, for log correlation only
}

// PacketHandler receives decoded inbound packets.
type PacketHandler func(Packet)

// RadioAdapter is the C6 contract.
type RadioAdapter interface {
	Start(ctx context.Context) error
	OnPacket(handler PacketHandler)
	SendDirect(origin, text string) bool
	SendBroadcast(text string) bool
	IsConnected() bool
}

const (
	maxBackoff       = 30 * time.Second
	initialBackoff   = 500 * time.Millisecond
	frameMTU         = 128
	interFrameSpacing = 2 * time.Second
	writeTimeout     = 2 * time.Second
)

// serialPort is the subset of *term.Term this package depends on, so
// tests can substitute an in-memory pipe.
type serialPort interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// SerialRadio is the production RadioAdapter, talking to the modem over
// a serial endpoint opened with pkg/term.
type SerialRadio struct {
	devicePath string
	baud       int

	mu        sync.Mutex
	port      serialPort
	handler   PacketHandler
	connected atomic.Bool

	sendMu sync.Mutex // serializes all outbound writes, incl. multi-frame spacing

	openFunc func(path string, baud int) (serialPort, error)
	logger   *log.Logger
}

// NewSerialRadio returns a SerialRadio bound to devicePath at baud.
func NewSerialRadio(devicePath string, baud int, logger *log.Logger) *SerialRadio {
	return &SerialRadio{
		devicePath: devicePath,
		baud:       baud,
		openFunc:   openTermPort,
		logger:     logger,
	}
}

func openTermPort(path string, baud int) (serialPort, error) {
	t, err := term.Open(path, term.RawMode)
	if err != nil {
		return nil, err
	}

	if baud > 0 {
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, err
		}
	}

	return t, nil
}

// OnPacket registers the callback invoked for every decoded inbound
// packet. Must be called before Start.
func (r *SerialRadio) OnPacket(handler PacketHandler) {
	r.handler = handler
}

// Start spawns the reconnect supervisor, which opens the serial endpoint
// and runs the reader, re-opening it after each disconnect until ctx is
// cancelled. Start returns immediately, without waiting for the first
// connection attempt.
func (r *SerialRadio) Start(ctx context.Context) error {
	go r.supervise(ctx)
	return nil
}

func (r *SerialRadio) supervise(ctx context.Context) {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		port, err := r.openFunc(r.devicePath, r.baud)
		if err != nil {
			r.logger.Error("radio: failed to open serial endpoint", "device", r.devicePath, "err", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff = nextBackoff(backoff)

			continue
		}

		r.logger.Info("radio: connected", "device", r.devicePath)
		backoff = initialBackoff

		r.mu.Lock()
		r.port = port
		r.mu.Unlock()
		r.connected.Store(true)

		r.readLoop(ctx, port)

		r.connected.Store(false)
		r.mu.Lock()
		r.port = nil
		r.mu.Unlock()

		port.Close()

		if ctx.Err() != nil {
			return
		}

		r.logger.Warn("radio: disconnected, will retry", "device", r.devicePath)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}

	return next
}

// readLoop blocks reading lines until the port errors or ctx is done,
// decoding each as a Packet and invoking the handler.
func (r *SerialRadio) readLoop(ctx context.Context, port serialPort) {
	scanner := bufio.NewScanner(readerWithContext(ctx, port))

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		pkt, err := decodeLine(line, time.Now().UTC())
		if err != nil {
			r.logger.Warn("radio: could not decode inbound line", "line", line, "err", err)
			continue
		}

		pkt.CorrelationID = xid.New().String()
		r.logger.Debug("radio: decoded inbound packet", "corr_id", pkt.CorrelationID, "origin", pkt.Origin, "kind", pkt.Kind)

		if r.handler != nil {
			r.handler(pkt)
		}
	}
}

// readerWithContext returns an io.Reader that stops yielding once ctx
// is done, so the scanner loop above exits promptly on shutdown even
// if the underlying blocking Read call is slow to return.
func readerWithContext(ctx context.Context, port serialPort) *ctxReader {
	return &ctxReader{ctx: ctx, port: port}
}

type ctxReader struct {
	ctx  context.Context
	port serialPort
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, c.ctx.Err()
	}

	return c.port.Read(p)
}

// decodeLine parses one line of the modem library's decoded-packet
// protocol: "POS <origin> <lat> <lon>" or "TXT <origin> <text...>".
func decodeLine(line string, now time.Time) (Packet, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return Packet{}, fmt.Errorf("malformed packet line: %q", line)
	}

	switch strings.ToUpper(fields[0]) {
	case "POS":
		if len(fields) != 3 {
			return Packet{}, fmt.Errorf("malformed POS line: %q", line)
		}

		latLon := strings.SplitN(fields[2], " ", 2)
		if len(latLon) != 2 {
			return Packet{}, fmt.Errorf("malformed POS coordinates: %q", line)
		}

		lat, err := strconv.ParseFloat(latLon[0], 64)
		if err != nil {
			return Packet{}, fmt.Errorf("bad latitude: %w", err)
		}

		lon, err := strconv.ParseFloat(latLon[1], 64)
		if err != nil {
			return Packet{}, fmt.Errorf("bad longitude: %w", err)
		}

		return Packet{Kind: PacketPosition, Origin: fields[1], Lat: lat, Lon: lon, ReceivedAt: now}, nil
	case "TXT":
		text := ""
		if len(fields) == 3 {
			text = fields[2]
		}

		return Packet{Kind: PacketText, Origin: fields[1], Text: text, ReceivedAt: now}, nil
	default:
		return Packet{}, fmt.Errorf("unknown packet kind: %q", fields[0])
	}
}

// IsConnected reports whether the serial endpoint is currently open.
func (r *SerialRadio) IsConnected() bool {
	return r.connected.Load()
}

// SendDirect transmits a directed message to origin, splitting into
// frameMTU-sized frames with interFrameSpacing between them when
// needed. Returns false (and drops the transmit) if disconnected or if
// any frame fails, matching the best-effort ack contract of §4.6.
func (r *SerialRadio) SendDirect(origin, text string) bool {
	return r.send(fmt.Sprintf("MSG %s ", origin), text)
}

// SendBroadcast transmits text to all listening stations.
func (r *SerialRadio) SendBroadcast(text string) bool {
	return r.send("BCN ", text)
}

func (r *SerialRadio) send(prefix, text string) bool {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	port := r.port
	r.mu.Unlock()

	if port == nil {
		return false
	}

	frames := splitFrames(text, frameMTU-len(prefix)-1)

	for i, frame := range frames {
		line := prefix + frame + "\n"

		if err := writeWithTimeout(port, []byte(line), writeTimeout); err != nil {
			r.logger.Warn("radio: send failed", "origin", prefix, "err", err)
			return false
		}

		if i < len(frames)-1 {
			time.Sleep(interFrameSpacing)
		}
	}

	return true
}

// splitFrames breaks text into chunks of at most size runes-worth of
// bytes, never splitting inside a UTF-8 rune.
func splitFrames(text string, size int) []string {
	if size <= 0 {
		size = 1
	}

	if len(text) <= size {
		return []string{text}
	}

	var frames []string

	runes := []rune(text)
	cur := make([]rune, 0, size)
	curLen := 0

	for _, rn := range runes {
		rl := len(string(rn))
		if curLen+rl > size && len(cur) > 0 {
			frames = append(frames, string(cur))
			cur = cur[:0]
			curLen = 0
		}

		cur = append(cur, rn)
		curLen += rl
	}

	if len(cur) > 0 {
		frames = append(frames, string(cur))
	}

	return frames
}

func writeWithTimeout(port serialPort, data []byte, timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		_, err := port.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("write timed out after %s", timeout)
	}
}
