package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/scpi"
)

// counterValue returns the value of the named metric whose labels match.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestEngineEvents(t *testing.T) {
	m := New()
	m.CommandDispatched("*IDN", true)
	m.CommandDispatched("*IDN", true)
	m.CommandDispatched("*RST", false)
	m.ErrorPushed(scpi.ErrUndefinedHeader)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"microscpi_commands_total", map[string]string{"command": "*IDN", "form": "query"}, 2},
		{"microscpi_commands_total", map[string]string{"command": "*RST", "form": "set"}, 1},
		{"microscpi_errors_total", map[string]string{"code": "-113"}, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, m, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestTransportEvents(t *testing.T) {
	m := New()
	m.MessageReceived(tmc.MsgDevDepMsgOut, 6)
	m.MessageReceived(tmc.MsgDevDepMsgOut, 10)
	m.ChunkDropped()
	m.TransferSent(32)
	m.ControlRequest(tmc.RequestGetCapabilities, false)
	m.ControlRequest(99, true)
	m.ResponseQueued(17)
	m.ResponseDropped()
	m.LineReceived("serial")
	m.ClientConnected("websocket", 1)
	m.ClientConnected("websocket", 1)
	m.ClientConnected("websocket", -1)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"microscpi_usbtmc_messages_received_total", map[string]string{"msg": "DEV_DEP_MSG_OUT"}, 2},
		{"microscpi_usbtmc_message_bytes_received_total", nil, 16},
		{"microscpi_usbtmc_chunks_dropped_total", nil, 1},
		{"microscpi_usbtmc_bytes_sent_total", nil, 32},
		{"microscpi_usbtmc_control_requests_total", map[string]string{"request": "GET_CAPABILITIES", "result": "ok"}, 1},
		{"microscpi_usbtmc_control_requests_total", map[string]string{"request": "REQUEST_99", "result": "stall"}, 1},
		{"microscpi_bridge_responses_queued_total", nil, 1},
		{"microscpi_bridge_responses_dropped_total", nil, 1},
		{"microscpi_lines_total", map[string]string{"transport": "serial"}, 1},
		{"microscpi_clients", map[string]string{"transport": "websocket"}, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, m, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.CommandDispatched("SYSTem:ERRor", true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`microscpi_commands_total{command="SYSTem:ERRor",form="query"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape lacks %q", want)
		}
	}
}
