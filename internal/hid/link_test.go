package hid

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"github.com/nullvektor/warden/internal/config"
	"github.com/nullvektor/warden/internal/timing"
)

// fakePort is a scripted Port. A drained read buffer behaves like a serial
// read timeout (zero bytes, nil error). lateData models bytes that arrive
// after an input-buffer flush, like a boot banner still streaming in.
type fakePort struct {
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	lateData string
	readErr  error
	writeErr error
	closed   bool
	resets   int
	timeout  time.Duration
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.readBuf.Len() == 0 {
		return 0, nil
	}
	return p.readBuf.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.writeBuf.Write(b)
}

func (p *fakePort) Close() error                         { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(d time.Duration) error { p.timeout = d; return nil }

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	p.readBuf.Reset()
	if p.lateData != "" {
		p.readBuf.WriteString(p.lateData)
		p.lateData = ""
	}
	return nil
}

// noopSleep records requested durations without waiting.
func noopSleep(slept *[]time.Duration) timing.Sleeper {
	return timing.SleeperFunc(func(ctx context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return ctx.Err()
	})
}

func testSerialConfig() config.SerialConfig {
	return config.SerialConfig{
		Port:        "/dev/ttyTEST",
		BaudRate:    115200,
		SettleDelay: 2 * time.Second,
		ReadTimeout: time.Second,
		CommandRate: 100000,
	}
}

func newTestLink(port *fakePort, slept *[]time.Duration) *Link {
	return &Link{
		cfg:     testSerialConfig(),
		logger:  zap.NewNop(),
		sleeper: noopSleep(slept),
		openPort: func(name string, baud int) (Port, error) {
			return port, nil
		},
		listPorts: func() ([]*enumerator.PortDetails, error) {
			return nil, errors.New("should not enumerate with explicit port")
		},
	}
}

func TestLinkOpenSettlesAndDrainsBanner(t *testing.T) {
	t.Parallel()

	port := &fakePort{lateData: "warden-hid v1.2 ready\r\n"}
	var slept []time.Duration
	l := newTestLink(port, &slept)

	require.NoError(t, l.Open(context.Background()))
	assert.Equal(t, LinkOpen, l.State())
	assert.Equal(t, time.Second, port.timeout)
	require.Len(t, slept, 1)
	assert.Equal(t, 2*time.Second, slept[0])
	// Banner must be consumed so it cannot shadow an ack.
	assert.Zero(t, port.readBuf.Len())

	// Idempotent open.
	require.NoError(t, l.Open(context.Background()))
}

func TestLinkWriteLineAppendsNewline(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	l := newTestLink(port, nil)
	require.NoError(t, l.Open(context.Background()))

	require.NoError(t, l.WriteLine("KEY_DOWN,TAB"))
	assert.Equal(t, "KEY_DOWN,TAB\n", port.writeBuf.String())
}

func TestLinkWriteLineFlushesStaleInput(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	l := newTestLink(port, nil)
	require.NoError(t, l.Open(context.Background()))

	// A late acknowledgement from an earlier command is still queued.
	port.readBuf.WriteString("OK\r\n")
	require.NoError(t, l.WriteLine("KEY_DOWN,TAB"))
	assert.Equal(t, 2, port.resets, "one flush at open, one before the write")

	_, err := l.ReadLine()
	assert.ErrorIs(t, err, ErrReadTimeout, "stale input must not be read as this command's ack")
}

func TestLinkWriteFailureClosesLink(t *testing.T) {
	t.Parallel()

	port := &fakePort{writeErr: errors.New("device unplugged")}
	l := newTestLink(port, nil)
	require.NoError(t, l.Open(context.Background()))

	err := l.WriteLine("KEY_DOWN,W")
	require.Error(t, err)
	assert.Equal(t, LinkClosed, l.State())
	assert.True(t, port.closed)

	// Writing on the closed link reports the sentinel, not a nil panic.
	assert.ErrorIs(t, l.WriteLine("KEY_UP,W"), ErrLinkClosed)
}

func TestLinkReadLine(t *testing.T) {
	t.Parallel()

	t.Run("reads_one_line_and_trims_cr", func(t *testing.T) {
		t.Parallel()
		port := &fakePort{}
		l := newTestLink(port, nil)
		require.NoError(t, l.Open(context.Background()))

		port.readBuf.WriteString("OK\r\nNEXT\n")
		line, err := l.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, "OK", line)

		line, err = l.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, "NEXT", line)
	})

	t.Run("timeout_when_no_data", func(t *testing.T) {
		t.Parallel()
		port := &fakePort{}
		l := newTestLink(port, nil)
		require.NoError(t, l.Open(context.Background()))

		_, err := l.ReadLine()
		assert.ErrorIs(t, err, ErrReadTimeout)
	})

	t.Run("read_error_closes_link", func(t *testing.T) {
		t.Parallel()
		port := &fakePort{}
		l := newTestLink(port, nil)
		require.NoError(t, l.Open(context.Background()))

		port.readErr = errors.New("io failure")
		_, err := l.ReadLine()
		require.Error(t, err)
		assert.Equal(t, LinkClosed, l.State())
	})
}

func TestLinkOpenCancelledDuringSettle(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	l := newTestLink(port, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, LinkClosed, l.State())
	assert.True(t, port.closed)
}

func TestDetectPort(t *testing.T) {
	t.Parallel()

	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0", IsUSB: false, Product: "Arduino lookalike"},
		{Name: "/dev/ttyUSB0", IsUSB: true, Product: "FTDI adapter"},
		{Name: "/dev/ttyACM0", IsUSB: true, Product: "Arduino Micro"},
	}
	list := func() ([]*enumerator.PortDetails, error) { return ports, nil }

	t.Run("matches_description_substring", func(t *testing.T) {
		t.Parallel()
		name, err := detectPort(list, []string{"Arduino", "USB Serial"})
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyACM0", name)
	})

	t.Run("match_is_case_insensitive", func(t *testing.T) {
		t.Parallel()
		name, err := detectPort(list, []string{"arduino"})
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyACM0", name)
	})

	t.Run("no_match", func(t *testing.T) {
		t.Parallel()
		_, err := detectPort(list, []string{"CH340"})
		assert.ErrorIs(t, err, ErrNoPortFound)
	})

	t.Run("enumeration_failure", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("udev exploded")
		_, err := detectPort(func() ([]*enumerator.PortDetails, error) { return nil, boom }, []string{"Arduino"})
		assert.ErrorIs(t, err, boom)
	})
}
