package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/scpi"
)

// MaxLine bounds one program message line on a line transport.
const MaxLine = 4096

// Observer receives line transport events. Implementations must not block.
type Observer interface {
	LineReceived(transport string)
	ClientConnected(transport string, delta int)
}

// Executor runs one program message and writes its output to w.
// [scpi.Engine] implements it.
type Executor interface {
	Execute(w io.Writer, message string)
}

var _ Executor = (*scpi.Engine)(nil)

// ServeLines executes every newline-terminated program message read from
// rw and writes the output of each back before reading the next. It returns
// nil when rw reaches EOF.
func ServeLines(name string, exec Executor, rw io.ReadWriter, obs Observer) error {
	if obs != nil {
		obs.ClientConnected(name, 1)
		defer obs.ClientConnected(name, -1)
	}

	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 256), MaxLine)
	var out bytes.Buffer
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if obs != nil {
			obs.LineReceived(name)
		}
		pkg.LogDebug(pkg.ComponentTransport, "line received", "transport", name, "line", line)

		out.Reset()
		exec.Execute(&out, line)
		if out.Len() == 0 {
			continue
		}
		if _, err := rw.Write(out.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}
