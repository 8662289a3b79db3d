// Package serialdaq drives a DAQ controller that speaks a line-oriented
// ASCII protocol over a serial port.
//
// Every request is one line terminated by '\n'. The controller answers
// "OK", "ERR <message>" or, for a fatal condition, "ERR FAULT <message>".
//
//	RAMP <n> <v1>,<v2>,...   load the piezo waveform
//	TRIG <0|1>               set the scan trigger line
//	SCAN                     run the armed sweep; replies "P1 <csv>",
//	                         "P2 <csv>" then "DONE"
//	LASER <v>                set the laser control output
//	REL                      release the channels
package serialdaq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.bug.st/serial"

	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/logger"
)

const (
	lineBuffer     = 64
	controlTimeout = time.Second
)

// Device is a hardware.Device on a serial DAQ controller.
type Device struct {
	port io.ReadWriteCloser
	log  *logger.Logger

	lines   chan string
	readErr error // set before lines is closed

	mu     sync.Mutex
	armed  bool
	points int
	closed bool
}

var (
	_ hardware.Device = (*Device)(nil)
	_ io.Closer       = (*Device)(nil)
)

// Open opens the serial port at path, retrying with exponential backoff while
// the port is busy, and returns a Device reading from it.
func Open(ctx context.Context, path string, opts PortOptions, log *logger.Logger) (*Device, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	log = logger.OrNop(log)

	var port serial.Port
	op := func() error {
		p, err := serial.Open(path, mode)
		if err != nil {
			log.Warnw("serial_open_retry", "port", path, "error", err)
			return err
		}
		port = p
		return nil
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	log.Infow("serial_port_opened", "port", path, "baud", mode.BaudRate)
	return New(port, log), nil
}

// New returns a Device speaking over port. It starts a reader goroutine that
// lives until port is closed.
func New(port io.ReadWriteCloser, log *logger.Logger) *Device {
	d := &Device{
		port:  port,
		log:   logger.OrNop(log),
		lines: make(chan string, lineBuffer),
	}
	go d.read()
	return d
}

func (d *Device) read() {
	sc := bufio.NewScanner(d.port)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		d.lines <- line
	}
	d.readErr = sc.Err()
	if d.readErr == nil {
		d.readErr = io.EOF
	}
	close(d.lines)
}

// ArmScan implements hardware.Device.
func (d *Device) ArmScan(ctx context.Context, ramp []float64) error {
	if len(ramp) == 0 {
		return errors.New("arm scan: empty ramp")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "RAMP %d ", len(ramp))
	b.WriteString(formatCSV(ramp))
	if err := d.request(ctx, b.String()); err != nil {
		return fmt.Errorf("arm scan: %w", err)
	}
	d.armed = true
	d.points = len(ramp)
	return nil
}

// ExecuteScan implements hardware.Device. The trigger is lowered again on
// every path out, including timeouts.
func (d *Device) ExecuteScan(ctx context.Context) (hardware.Samples, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed {
		return hardware.Samples{}, hardware.ErrNotArmed
	}
	d.armed = false

	if err := d.request(ctx, "TRIG 1"); err != nil {
		return hardware.Samples{}, fmt.Errorf("raise trigger: %w", err)
	}
	samples, err := d.sweep(ctx)

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlTimeout)
	defer cancel()
	if terr := d.request(lctx, "TRIG 0"); terr != nil {
		d.log.Warnw("trigger_reset_failed", "error", terr)
		if err == nil && hardware.IsFatal(terr) {
			err = terr
		}
	}
	if err != nil {
		return hardware.Samples{}, err
	}
	return samples, nil
}

func (d *Device) sweep(ctx context.Context) (hardware.Samples, error) {
	d.drain()
	if err := d.send("SCAN"); err != nil {
		return hardware.Samples{}, err
	}
	var out hardware.Samples
	for {
		line, err := d.readLine(ctx)
		if err != nil {
			return hardware.Samples{}, err
		}
		switch {
		case line == "DONE":
			if out.Len() != d.points {
				return hardware.Samples{}, fmt.Errorf("%w: got %d samples, want %d", hardware.ErrTimeout, out.Len(), d.points)
			}
			return out, nil
		case strings.HasPrefix(line, "P1 "):
			if out.P1, err = parseCSV(line[3:]); err != nil {
				return hardware.Samples{}, err
			}
		case strings.HasPrefix(line, "P2 "):
			if out.P2, err = parseCSV(line[3:]); err != nil {
				return hardware.Samples{}, err
			}
		default:
			if err := replyError(line); err != nil {
				return hardware.Samples{}, err
			}
			return hardware.Samples{}, fmt.Errorf("unexpected reply %q", line)
		}
	}
}

// WriteLaserVoltage implements hardware.Device.
func (d *Device) WriteLaserVoltage(ctx context.Context, volts float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.request(ctx, "LASER "+strconv.FormatFloat(volts, 'f', -1, 64)); err != nil {
		return fmt.Errorf("laser voltage: %w", err)
	}
	return nil
}

// ReleaseControl implements hardware.Device. The port stays open so a later
// loop can claim the channels again; Close ends the session.
func (d *Device) ReleaseControl() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.armed = false
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if err := d.request(ctx, "REL"); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

// Close closes the serial port. Every later request fails with
// hardware.ErrFault.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.armed = false
	if err := d.port.Close(); err != nil {
		return fmt.Errorf("close port: %w", err)
	}
	return nil
}

// request sends cmd and waits for its OK. d.mu must be held.
func (d *Device) request(ctx context.Context, cmd string) error {
	d.drain()
	if err := d.send(cmd); err != nil {
		return err
	}
	line, err := d.readLine(ctx)
	if err != nil {
		return err
	}
	if line == "OK" {
		return nil
	}
	if err := replyError(line); err != nil {
		return err
	}
	return fmt.Errorf("unexpected reply %q to %q", line, commandName(cmd))
}

func (d *Device) send(cmd string) error {
	if d.closed {
		return fmt.Errorf("%w: port closed", hardware.ErrFault)
	}
	if _, err := io.WriteString(d.port, cmd+"\n"); err != nil {
		return fmt.Errorf("%w: write %s: %v", hardware.ErrFault, commandName(cmd), err)
	}
	return nil
}

func (d *Device) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-d.lines:
		if !ok {
			return "", fmt.Errorf("%w: read: %v", hardware.ErrFault, d.readErr)
		}
		return line, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", hardware.ErrTimeout, ctx.Err())
	}
}

// drain drops replies left over from a request that timed out.
func (d *Device) drain() {
	for {
		select {
		case line, ok := <-d.lines:
			if !ok {
				return
			}
			d.log.Debugw("stale_reply_dropped", "line", line)
		default:
			return
		}
	}
}

func replyError(line string) error {
	msg, ok := strings.CutPrefix(line, "ERR")
	if !ok {
		return nil
	}
	msg = strings.TrimSpace(msg)
	if rest, fatal := strings.CutPrefix(msg, "FAULT"); fatal {
		return fmt.Errorf("%w: %s", hardware.ErrFault, strings.TrimSpace(rest))
	}
	return fmt.Errorf("instrument error: %s", msg)
}

func commandName(cmd string) string {
	name, _, _ := strings.Cut(cmd, " ")
	return name
}

func formatCSV(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', 6, 64)
	}
	return strings.Join(parts, ",")
}

func parseCSV(s string) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("parse sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
