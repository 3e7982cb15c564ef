package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/microscpi/bridge"
	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/instrument"
	"github.com/ardnew/microscpi/pkg"
)

// Config is the instrument configuration file.
type Config struct {
	Identity    instrument.Identity `yaml:"identity"`
	Description string              `yaml:"description"`
	USB         USBConfig           `yaml:"usb"`
	Instrument  InstrumentConfig    `yaml:"instrument"`
	Serial      SerialConfig        `yaml:"serial"`
	WebSocket   WebSocketConfig     `yaml:"websocket"`
	Log         LogConfig           `yaml:"log"`
	Metrics     MetricsConfig       `yaml:"metrics"`
}

// USBConfig describes the USBTMC function and its bounded resources.
type USBConfig struct {
	Protocol          string `yaml:"protocol"` // usbtmc or usb488
	Speed             string `yaml:"speed"`    // full or high
	InterfaceNumber   uint8  `yaml:"interface_number"`
	BulkOutEndpoint   uint8  `yaml:"bulk_out_endpoint"`
	BulkInEndpoint    uint8  `yaml:"bulk_in_endpoint"`
	MaxTransferSize   int    `yaml:"max_transfer_size"`
	MaxMessage        int    `yaml:"max_message"`
	RxRingPackets     int    `yaml:"rx_ring_packets"`
	WorkQueueSize     int    `yaml:"work_queue_size"`
	ResponseQueueSize int    `yaml:"response_queue_size"`
	TermChar          bool   `yaml:"term_char"`
	IndicatorPulse    bool   `yaml:"indicator_pulse"`
}

// InstrumentConfig selects the simulated hardware of the instrument.
type InstrumentConfig struct {
	Pins        []int    `yaml:"pins"`
	ADCChannels []int    `yaml:"adc_channels"`
	I2CBuses    int      `yaml:"i2c_buses"`
	I2CTargets  []uint16 `yaml:"i2c_targets"`
	SPIBuses    int      `yaml:"spi_buses"`
	Relay       bool     `yaml:"relay"`
	RelaySelect uint8    `yaml:"relay_select"`
}

// SerialConfig describes the UART console.
type SerialConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// WebSocketConfig describes the websocket endpoint.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig describes the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// CreateDefaultConfig returns the configuration of a USB488 instrument with
// the default pin, ADC, bus and relay complement.
func CreateDefaultConfig() *Config {
	return &Config{
		Identity: instrument.Identity{
			Manufacturer: "MicroScpiDevice",
			Model:        "RP001",
			Serial:       "0001",
			Firmware:     "0.0.1",
		},
		Description: "SCPI instrument",
		USB: USBConfig{
			Protocol:          "usb488",
			Speed:             "full",
			BulkOutEndpoint:   0x01,
			BulkInEndpoint:    0x81,
			MaxTransferSize:   tmc.DefaultMaxTransferSize,
			MaxMessage:        bridge.DefaultMaxMessage,
			RxRingPackets:     tmc.DefaultRxRingPackets,
			WorkQueueSize:     tmc.DefaultWorkQueueSize,
			ResponseQueueSize: tmc.DefaultResponseQueueSize,
			TermChar:          true,
			IndicatorPulse:    true,
		},
		Instrument: InstrumentConfig{
			Pins:        slices.Clone(instrument.DefaultPins),
			ADCChannels: slices.Clone(instrument.DefaultADCChannels),
			I2CBuses:    2,
			I2CTargets:  []uint16{0x48},
			SPIBuses:    2,
			Relay:       true,
		},
		Serial: SerialConfig{
			BaudRate: 115200,
		},
		WebSocket: WebSocketConfig{
			Listen: "127.0.0.1:5025",
			Path:   "/scpi",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9090",
			Path:   "/metrics",
		},
	}
}

// WriteDefaultConfig writes the default configuration to path.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(CreateDefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadConfig reads path over the defaults and validates the result. Keys
// absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (create one with 'microscpi config init')", path)
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := CreateDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ValidateConfig checks cfg for values the runtime cannot honor. Every
// problem is reported, joined into one error.
func ValidateConfig(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{pkg.ErrInvalidParameter}, args...)...))
	}

	if strings.ContainsAny(cfg.Identity.String(), "\n;") {
		add("identity must not contain newlines or semicolons")
	}

	u := &cfg.USB
	if _, err := u.protocol(); err != nil {
		errs = append(errs, err)
	}
	speed, err := u.speed()
	if err != nil {
		errs = append(errs, err)
	}
	if u.BulkOutEndpoint&0x80 != 0 || u.BulkOutEndpoint&0x0F == 0 {
		add("usb.bulk_out_endpoint %#02x is not an OUT endpoint", u.BulkOutEndpoint)
	}
	if u.BulkInEndpoint&0x80 == 0 || u.BulkInEndpoint&0x0F == 0 {
		add("usb.bulk_in_endpoint %#02x is not an IN endpoint", u.BulkInEndpoint)
	}
	if err == nil && u.MaxTransferSize < speed.MaxPacketSize() {
		add("usb.max_transfer_size %d is below the %d byte packet size", u.MaxTransferSize, speed.MaxPacketSize())
	}
	if u.MaxMessage < u.MaxTransferSize-tmc.HeaderSize {
		add("usb.max_message %d is below one transfer", u.MaxMessage)
	}
	for name, v := range map[string]int{
		"usb.rx_ring_packets":     u.RxRingPackets,
		"usb.work_queue_size":     u.WorkQueueSize,
		"usb.response_queue_size": u.ResponseQueueSize,
	} {
		if v <= 0 {
			add("%s must be positive, got %d", name, v)
		}
	}

	in := &cfg.Instrument
	if err := uniqueNonNegative("instrument.pins", in.Pins); err != nil {
		errs = append(errs, err)
	}
	if err := uniqueNonNegative("instrument.adc_channels", in.ADCChannels); err != nil {
		errs = append(errs, err)
	}
	if in.I2CBuses < 0 || in.SPIBuses < 0 {
		add("instrument bus counts must not be negative")
	}
	for _, a := range in.I2CTargets {
		if a < 0x08 || a > 0x77 {
			add("instrument.i2c_targets address %#x outside 0x08-0x77", a)
		}
	}
	if in.Relay {
		if in.I2CBuses == 0 {
			add("instrument.relay needs at least one I2C bus")
		}
		if in.RelaySelect > 3 {
			add("instrument.relay_select %d outside 0-3", in.RelaySelect)
		}
	}

	if cfg.Serial.Enabled {
		if cfg.Serial.Port == "" {
			add("serial.port is required when serial is enabled")
		}
		if cfg.Serial.BaudRate <= 0 {
			add("serial.baud_rate must be positive")
		}
	}
	if cfg.WebSocket.Enabled && !strings.HasPrefix(cfg.WebSocket.Path, "/") {
		add("websocket.path %q must start with /", cfg.WebSocket.Path)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path %q must start with /", cfg.Metrics.Path)
	}

	if _, err := pkg.ParseLogLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := pkg.ParseLogFormat(cfg.Log.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func uniqueNonNegative(name string, values []int) error {
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		if v < 0 {
			return fmt.Errorf("%w: %s contains %d", pkg.ErrInvalidParameter, name, v)
		}
		if seen[v] {
			return fmt.Errorf("%w: %s repeats %d", pkg.ErrInvalidParameter, name, v)
		}
		seen[v] = true
	}
	return nil
}

func (u *USBConfig) protocol() (tmc.Protocol, error) {
	switch strings.ToLower(u.Protocol) {
	case "usb488", "":
		return tmc.ProtocolUSB488, nil
	case "usbtmc", "tmc":
		return tmc.ProtocolTMC, nil
	}
	return 0, fmt.Errorf("%w: usb.protocol %q", pkg.ErrInvalidParameter, u.Protocol)
}

func (u *USBConfig) speed() (hal.Speed, error) {
	switch strings.ToLower(u.Speed) {
	case "full", "":
		return hal.SpeedFull, nil
	case "high":
		return hal.SpeedHigh, nil
	}
	return hal.SpeedUnknown, fmt.Errorf("%w: usb.speed %q", pkg.ErrInvalidParameter, u.Speed)
}

// HALSpeed returns the configured bus speed. It assumes a validated config.
func (u *USBConfig) HALSpeed() hal.Speed {
	s, _ := u.speed()
	return s
}

// TMC returns the function configuration. It assumes a validated config.
func (u *USBConfig) TMC() tmc.Config {
	c := tmc.DefaultConfig()
	c.Capabilities.Protocol, _ = u.protocol()
	if c.Capabilities.Protocol == tmc.ProtocolTMC {
		c.Capabilities.USB488 = tmc.USB488Capabilities{}
	}
	c.Capabilities.TermChar = u.TermChar
	c.Capabilities.IndicatorPulse = u.IndicatorPulse
	c.InterfaceNumber = u.InterfaceNumber
	c.BulkOutEndpoint = u.BulkOutEndpoint
	c.BulkInEndpoint = u.BulkInEndpoint
	c.MaxTransferSize = u.MaxTransferSize
	c.RxRingPackets = u.RxRingPackets
	c.WorkQueueSize = u.WorkQueueSize
	return c
}

// Bridge returns the bridge configuration.
func (u *USBConfig) Bridge() bridge.Config {
	return bridge.Config{
		QueueSize:  u.ResponseQueueSize,
		MaxMessage: u.MaxMessage,
		TermChar:   u.TermChar,
	}
}
