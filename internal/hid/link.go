// Package hid drives the external HID peripheral over its serial command
// protocol. The Link owns the physical port lifecycle; the Channel layers
// pacing, humanized key handling, and mouse trajectories on top of it.
package hid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	goserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/nullvektor/warden/internal/config"
	"github.com/nullvektor/warden/internal/timing"
)

// LinkState reports whether the serial link is usable.
type LinkState int32

const (
	LinkClosed LinkState = iota
	LinkOpen
)

func (s LinkState) String() string {
	if s == LinkOpen {
		return "open"
	}
	return "closed"
}

var (
	// ErrLinkClosed is returned when a write or read is attempted on a
	// closed link.
	ErrLinkClosed = errors.New("serial link is closed")
	// ErrReadTimeout is returned when the peripheral produced no line within
	// the configured read timeout.
	ErrReadTimeout = errors.New("serial read timed out")
	// ErrNoPortFound is returned when auto-detection matched no port.
	ErrNoPortFound = errors.New("no matching serial port found")
)

// Port is the subset of the serial port surface the link needs. The real
// implementation comes from go.bug.st/serial; tests substitute a scripted
// fake.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
}

// Link manages one serial connection to the peripheral. Any write or read
// failure closes the port so the next send attempts a fresh open. Safe for
// concurrent use, though the behavior worker is the only expected caller.
type Link struct {
	cfg     config.SerialConfig
	logger  *zap.Logger
	sleeper timing.Sleeper

	openPort  func(name string, baud int) (Port, error)
	listPorts func() ([]*enumerator.PortDetails, error)

	mu    sync.Mutex
	port  Port
	state LinkState
	name  string
}

// NewLink builds a Link over the real serial stack.
func NewLink(cfg config.SerialConfig, sleeper timing.Sleeper, logger *zap.Logger) *Link {
	return &Link{
		cfg:     cfg,
		logger:  logger.Named("link"),
		sleeper: sleeper,
		openPort: func(name string, baud int) (Port, error) {
			return goserial.Open(name, &goserial.Mode{BaudRate: baud})
		},
		listPorts: enumerator.GetDetailedPortsList,
	}
}

// DetectPort scans USB serial ports and returns the first whose product
// description contains any of the configured match strings.
func DetectPort(match []string) (string, error) {
	return detectPort(enumerator.GetDetailedPortsList, match)
}

func detectPort(list func() ([]*enumerator.PortDetails, error), match []string) (string, error) {
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("enumerating serial ports: %w", err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		for _, m := range match {
			if m != "" && strings.Contains(strings.ToLower(p.Product), strings.ToLower(m)) {
				return p.Name, nil
			}
		}
	}
	return "", fmt.Errorf("%w (looked for %v)", ErrNoPortFound, match)
}

// Open resolves the port (explicit or auto-detected), opens it, waits out the
// firmware reset that opening a USB CDC port triggers, and discards the boot
// banner. Opening an already open link is a no-op.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LinkOpen {
		return nil
	}

	name := l.cfg.Port
	if name == "" {
		detected, err := detectPort(l.listPorts, l.cfg.Match)
		if err != nil {
			return err
		}
		name = detected
	}

	port, err := l.openPort(name, l.cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("setting read timeout on %s: %w", name, err)
	}

	l.logger.Info("Serial port opened, waiting for firmware to settle.",
		zap.String("port", name),
		zap.Int("baud", l.cfg.BaudRate),
		zap.Duration("settle", l.cfg.SettleDelay))

	if err := l.sleeper.Sleep(ctx, l.cfg.SettleDelay); err != nil {
		port.Close()
		return err
	}
	if err := port.ResetInputBuffer(); err != nil {
		l.logger.Debug("Failed to reset input buffer.", zap.Error(err))
	}
	l.drainBanner(port)

	l.port = port
	l.state = LinkOpen
	l.name = name
	return nil
}

// drainBanner reads whatever the firmware printed at boot so it is never
// mistaken for a command acknowledgement.
func (l *Link) drainBanner(port Port) {
	buf := make([]byte, 256)
	var banner []byte
	for {
		n, err := port.Read(buf)
		if n > 0 {
			banner = append(banner, buf[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}
	if len(banner) > 0 {
		l.logger.Debug("Peripheral banner.", zap.ByteString("banner", bytes.TrimSpace(banner)))
	}
}

// WriteLine sends one newline-terminated command, flushing any pending input
// first so a stale line (a late acknowledgement, banner residue) is never read
// back as this command's acknowledgement. A write failure closes the link so
// the next send reopens it.
func (l *Link) WriteLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkOpen || l.port == nil {
		return ErrLinkClosed
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		l.logger.Debug("Failed to flush input buffer before write.", zap.Error(err))
	}
	if _, err := l.port.Write([]byte(line + "\n")); err != nil {
		l.logger.Warn("Serial write failed, closing link.", zap.String("port", l.name), zap.Error(err))
		l.closeLocked()
		return fmt.Errorf("writing %q: %w", line, err)
	}
	return nil
}

// ReadLine reads one line from the peripheral, trimming the trailing carriage
// return. A zero-byte read means the port's read timeout elapsed.
func (l *Link) ReadLine() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkOpen || l.port == nil {
		return "", ErrLinkClosed
	}
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			l.logger.Warn("Serial read failed, closing link.", zap.String("port", l.name), zap.Error(err))
			l.closeLocked()
			return "", fmt.Errorf("reading response: %w", err)
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
		if buf[0] == '\n' {
			return string(bytes.TrimRight(line, "\r")), nil
		}
		line = append(line, buf[0])
	}
}

// State reports whether the link is currently open.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close shuts the port down. Closing a closed link is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Link) closeLocked() error {
	if l.port == nil {
		l.state = LinkClosed
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.state = LinkClosed
	return err
}
