package serial

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/transport"
)

// Name labels the serial transport in logs and metrics.
const Name = "serial"

// DefaultBaudRate is the console speed when none is configured.
const DefaultBaudRate = 115200

// Open opens portName at baudRate, 8N1.
func Open(portName string, baudRate int) (serial.Port, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return port, nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// Console serves SCPI over a UART: one program message per line in, the
// engine's output back.
type Console struct {
	port     io.ReadWriteCloser
	exec     transport.Executor
	observer transport.Observer
}

// NewConsole binds exec to port. The console owns port and closes it when
// Run returns.
func NewConsole(port io.ReadWriteCloser, exec transport.Executor, obs transport.Observer) *Console {
	return &Console{port: port, exec: exec, observer: obs}
}

// Run serves lines until ctx is cancelled or the port fails.
func (c *Console) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.port.Close() })
	defer func() {
		if stop() {
			c.port.Close()
		}
	}()

	pkg.LogInfo(pkg.ComponentTransport, "serial console running")
	err := transport.ServeLines(Name, c.exec, c.port, c.observer)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Client sends program messages to an instrument's serial console.
type Client struct {
	port    io.ReadWriteCloser
	buf     [256]byte
	pending []byte
}

// Dial opens portName and returns a client whose reads give up after
// timeout.
func Dial(portName string, baudRate int, timeout time.Duration) (*Client, error) {
	port, err := Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return NewClient(port), nil
}

// NewClient wraps an open stream.
func NewClient(port io.ReadWriteCloser) *Client {
	return &Client{port: port}
}

// Write sends msg as one line.
func (c *Client) Write(msg string) error {
	msg = strings.TrimRight(msg, "\r\n") + "\n"
	if _, err := io.WriteString(c.port, msg); err != nil {
		return fmt.Errorf("write %q: %w", msg, err)
	}
	return nil
}

// ReadLine returns the next response line without its terminator. A read
// that times out with nothing received surfaces as [pkg.ErrTimeout].
func (c *Client) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := string(c.pending[:i])
			c.pending = c.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		n, err := c.port.Read(c.buf[:])
		c.pending = append(c.pending, c.buf[:n]...)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", fmt.Errorf("%w: no response", pkg.ErrTimeout)
		}
	}
}

// Query sends msg and returns the first response line.
func (c *Client) Query(msg string) (string, error) {
	if err := c.Write(msg); err != nil {
		return "", err
	}
	return c.ReadLine()
}

// Close closes the port.
func (c *Client) Close() error {
	return c.port.Close()
}
