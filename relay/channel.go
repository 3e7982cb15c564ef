package relay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ardnew/microscpi/pkg"
)

// Channel identifies a crosspoint as row*100 + column, e.g. 103.
type Channel uint16

// Channel bounds.
const (
	FirstChannel Channel = 101
	LastChannel  Channel = Rows*100 + Columns
)

// Row returns the 1-based row.
func (c Channel) Row() int {
	return int(c) / 100
}

// Column returns the 1-based column.
func (c Channel) Column() int {
	return int(c) % 100
}

// Valid reports whether c names a crosspoint of the matrix.
func (c Channel) Valid() bool {
	r, col := c.Row(), c.Column()
	return r >= 1 && r <= Rows && col >= 1 && col <= Columns
}

// String returns the channel number.
func (c Channel) String() string {
	return strconv.Itoa(int(c))
}

// ParseChannelList parses a SCPI channel list such as (@101,103:105,2:201).
// A range expands to the valid crosspoints between its ends, in order.
func ParseChannelList(s string) ([]Channel, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(@") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("%w: channel list %q", pkg.ErrInvalidParameter, s)
	}
	body := strings.TrimSpace(s[2 : len(s)-1])
	if body == "" {
		return nil, fmt.Errorf("%w: empty channel list", pkg.ErrInvalidParameter)
	}

	var list []Channel
	for _, item := range strings.Split(body, ",") {
		item = strings.TrimSpace(item)
		first, last, isRange := strings.Cut(item, ":")
		start, err := parseChannel(first)
		if err != nil {
			return nil, err
		}
		if !isRange {
			list = append(list, start)
			continue
		}
		end, err := parseChannel(last)
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, fmt.Errorf("%w: channel range %s", pkg.ErrInvalidParameter, item)
		}
		for ch := start; ch <= end; ch++ {
			if ch.Valid() {
				list = append(list, ch)
			}
		}
	}
	return list, nil
}

func parseChannel(s string) (Channel, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: channel %q", pkg.ErrInvalidParameter, s)
	}
	ch := Channel(n)
	if !ch.Valid() {
		return 0, fmt.Errorf("%w: channel %d out of range", pkg.ErrInvalidParameter, n)
	}
	return ch, nil
}

// FormatChannelList renders channels as (@101,102).
func FormatChannelList(chs []Channel) string {
	var b strings.Builder
	b.WriteString("(@")
	for i, ch := range chs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ch.String())
	}
	b.WriteByte(')')
	return b.String()
}
