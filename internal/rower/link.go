package rower

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// ErrReadTimeout is returned by Link.ReadLine when no full line arrived
// within the configured read timeout.
var ErrReadTimeout = errors.New("read timeout")

// Link is one open connection to the rower. A Link is owned by a single
// monitor loop; it is not safe for concurrent use.
type Link interface {
	// ReadLine blocks until a newline-terminated line arrives or the read
	// timeout expires. The returned line is stripped of surrounding
	// whitespace. Timeouts are reported as ErrReadTimeout; any other error
	// means the link is broken.
	ReadLine() (string, error)

	// WriteCommand sends a single-byte command followed by a newline.
	WriteCommand(c byte) error

	Close() error
}

// Dialer opens a fresh Link. The monitor calls it on every (re)connect
// attempt, so each invocation must return a new connection.
type Dialer func() (Link, error)

// SerialConfig describes the serial port the rower is attached to.
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// SerialDialer returns a Dialer that opens the configured serial port.
func SerialDialer(cfg SerialConfig) Dialer {
	return func() (Link, error) {
		port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
		if err != nil {
			return nil, fmt.Errorf("opening serial port %s: %w", cfg.Port, err)
		}
		if err = port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("setting read timeout: %w", err)
		}
		return &serialLink{port: port}, nil
	}
}

type serialLink struct {
	port serial.Port
	buf  [1]byte
	line []byte
}

// ReadLine assembles one line byte by byte. The port read timeout applies to
// every byte, so a silent device surfaces as ErrReadTimeout while a partial
// line stays buffered for the next call.
func (l *serialLink) ReadLine() (string, error) {
	for {
		n, err := l.port.Read(l.buf[:])
		if err != nil {
			return "", fmt.Errorf("reading serial port: %w", err)
		}
		if n == 0 {
			return "", ErrReadTimeout
		}

		c := l.buf[0]
		if c != '\n' {
			l.line = append(l.line, c)
			continue
		}

		line := strings.TrimSpace(string(l.line))
		l.line = l.line[:0]
		return line, nil
	}
}

func (l *serialLink) WriteCommand(c byte) error {
	if _, err := l.port.Write([]byte{c, '\n'}); err != nil {
		return fmt.Errorf("writing command %q: %w", c, err)
	}
	return nil
}

func (l *serialLink) Close() error {
	return l.port.Close()
}
