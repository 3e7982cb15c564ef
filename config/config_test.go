package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := ValidateConfig(CreateDefaultConfig()); err != nil {
		t.Errorf("ValidateConfig(default) error = %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad protocol", func(c *Config) { c.USB.Protocol = "hid" }, "usb.protocol"},
		{"bad speed", func(c *Config) { c.USB.Speed = "super" }, "usb.speed"},
		{"in endpoint as out", func(c *Config) { c.USB.BulkOutEndpoint = 0x81 }, "bulk_out_endpoint"},
		{"out endpoint as in", func(c *Config) { c.USB.BulkInEndpoint = 0x02 }, "bulk_in_endpoint"},
		{"transfer below packet", func(c *Config) { c.USB.Speed = "high"; c.USB.MaxTransferSize = 256 }, "max_transfer_size"},
		{"message below transfer", func(c *Config) { c.USB.MaxMessage = 100 }, "max_message"},
		{"zero queue", func(c *Config) { c.USB.ResponseQueueSize = 0 }, "response_queue_size"},
		{"repeated pin", func(c *Config) { c.Instrument.Pins = []int{6, 6} }, "repeats 6"},
		{"negative adc", func(c *Config) { c.Instrument.ADCChannels = []int{-1} }, "adc_channels"},
		{"reserved i2c target", func(c *Config) { c.Instrument.I2CTargets = []uint16{0x03} }, "i2c_targets"},
		{"relay without bus", func(c *Config) { c.Instrument.I2CBuses = 0 }, "relay needs"},
		{"relay select", func(c *Config) { c.Instrument.RelaySelect = 4 }, "relay_select"},
		{"serial without port", func(c *Config) { c.Serial.Enabled = true }, "serial.port"},
		{"websocket path", func(c *Config) { c.WebSocket.Enabled = true; c.WebSocket.Path = "scpi" }, "websocket.path"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "" }, "metrics.path"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"identity", func(c *Config) { c.Identity.Model = "X;1" }, "identity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CreateDefaultConfig()
			tt.modify(cfg)
			err := ValidateConfig(cfg)
			if !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Fatalf("ValidateConfig() error = %v, want %v", err, pkg.ErrInvalidParameter)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateConfig() error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
identity:
  model: EMU2751A
usb:
  protocol: usbtmc
  speed: high
  max_transfer_size: 1024
instrument:
  pins: [2, 3]
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Identity.Model != "EMU2751A" || cfg.Identity.Manufacturer != "MicroScpiDevice" {
		t.Errorf("Identity = %+v, want model override over default manufacturer", cfg.Identity)
	}
	if len(cfg.Instrument.Pins) != 2 || cfg.Instrument.Pins[1] != 3 {
		t.Errorf("Pins = %v, want [2 3]", cfg.Instrument.Pins)
	}
	if cfg.USB.ResponseQueueSize != tmc.DefaultResponseQueueSize {
		t.Errorf("ResponseQueueSize = %d, want default %d", cfg.USB.ResponseQueueSize, tmc.DefaultResponseQueueSize)
	}
	if cfg.USB.HALSpeed() != hal.SpeedHigh {
		t.Errorf("HALSpeed() = %v, want %v", cfg.USB.HALSpeed(), hal.SpeedHigh)
	}

	tc := cfg.USB.TMC()
	if tc.Capabilities.Protocol != tmc.ProtocolTMC {
		t.Errorf("Protocol = %v, want %v", tc.Capabilities.Protocol, tmc.ProtocolTMC)
	}
	if tc.Capabilities.USB488.SCPI {
		t.Error("plain USBTMC declares USB488 capabilities")
	}
	if tc.MaxTransferSize != 1024 || tc.BulkInEndpoint != 0x81 {
		t.Errorf("TMC() = %+v", tc)
	}
	if bc := cfg.USB.Bridge(); bc.QueueSize != tmc.DefaultResponseQueueSize || !bc.TermChar {
		t.Errorf("Bridge() = %+v", bc)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte("usb: [")); err == nil || !strings.Contains(err.Error(), "parse YAML") {
		t.Errorf("Parse(malformed) error = %v, want parse YAML error", err)
	}
	if _, err := Parse([]byte("usb:\n  protocol: hid\n")); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Parse(invalid) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestWriteAndLoadDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "microscpi.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "response_queue_size: 16") {
		t.Errorf("written config lacks response_queue_size:\n%s", data)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.USB.MaxMessage != CreateDefaultConfig().USB.MaxMessage {
		t.Errorf("MaxMessage = %d, want %d", cfg.USB.MaxMessage, CreateDefaultConfig().USB.MaxMessage)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("LoadConfig(absent) error = %v, want not found", err)
	}
}
