package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ardnew/microscpi/capture"
	"github.com/ardnew/microscpi/config"
	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/scpi"
)

func TestBenchEngine(t *testing.T) {
	b, err := newBench(config.CreateDefaultConfig(), nil)
	if err != nil {
		t.Fatalf("newBench() error = %v", err)
	}
	var out bytes.Buffer
	b.engine().Execute(&out, "*IDN?;PIN6:MODE OUT;PIN6:ON;SYST:ERR?\n")
	want := "MicroScpiDevice,RP001,0001,0.0.1\n" + scpi.ErrNone.String() + "\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if b.led.On() {
		t.Error("error LED on after clean run")
	}
}

func TestBenchRelayNeedsBus(t *testing.T) {
	cfg := config.CreateDefaultConfig()
	cfg.Instrument.I2CBuses = 0
	if _, err := newBench(cfg, nil); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("newBench() error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestSelftest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "selftest.pcap")
	opts := &options{cfg: config.CreateDefaultConfig()}
	var out bytes.Buffer
	script := []string{"*IDN?", "PIN6:MODE OUT", "FOO"}
	if err := selftest(ctx, opts, &out, script, path, 2*time.Second); err != nil {
		t.Fatalf("selftest() error = %v", err)
	}

	for _, want := range []string{
		"protocol usb488",
		"> *IDN?\n< MicroScpiDevice,RP001,0001,0.0.1\n",
		"> PIN6:MODE OUT\n",
		"error: " + scpi.ErrUndefinedHeader.String() + "\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	transfers, err := capture.Decode(f, capture.Filter{})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(transfers) == 0 {
		t.Fatal("capture holds no transfers")
	}
	if transfers[0].Direction != capture.Out {
		t.Errorf("first transfer direction = %v, want %v", transfers[0].Direction, capture.Out)
	}
}

type scriptedQuerier struct {
	writes  []string
	replies map[string]string
}

func (q *scriptedQuerier) Write(msg string) error {
	q.writes = append(q.writes, msg)
	return nil
}

func (q *scriptedQuerier) Query(msg string) (string, error) {
	r, ok := q.replies[msg]
	if !ok {
		return "", pkg.ErrTimeout
	}
	return r, nil
}

func TestRunScript(t *testing.T) {
	q := &scriptedQuerier{replies: map[string]string{"*IDN?": "Acme,X1,0001,1.0", "A?": "1\n2"}}
	var out bytes.Buffer
	if err := runScript(q, &out, []string{"*RST", " ", "*IDN?", "A?"}); err != nil {
		t.Fatalf("runScript() error = %v", err)
	}
	want := "> *RST\n> *IDN?\n< Acme,X1,0001,1.0\n> A?\n< 1\n< 2\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if len(q.writes) != 1 || q.writes[0] != "*RST" {
		t.Errorf("writes = %q, want [*RST]", q.writes)
	}

	if err := runScript(q, &out, []string{"B?"}); !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("runScript() error = %v, want %v", err, pkg.ErrTimeout)
	}
}

func TestParseUSBID(t *testing.T) {
	tests := []struct {
		in       string
		vid, pid uint16
		wantErr  bool
	}{
		{"2e8a:000a", 0x2e8a, 0x000a, false},
		{"0957:1755", 0x0957, 0x1755, false},
		{"2e8a", 0, 0, true},
		{"xyz:0001", 0, 0, true},
		{"0001:10000", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			vid, pid, err := parseUSBID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUSBID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if vid != tt.vid || pid != tt.pid {
				t.Errorf("parseUSBID(%q) = %04x:%04x, want %04x:%04x", tt.in, vid, pid, tt.vid, tt.pid)
			}
		})
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "microscpi.yaml")

	execute(t, "config", "init", path)
	if got := execute(t, "config", "validate", path); !strings.Contains(got, "ok") {
		t.Errorf("validate output = %q", got)
	}
	if got := execute(t, "--config", path, "config", "show"); !strings.Contains(got, "manufacturer: MicroScpiDevice") {
		t.Errorf("show output = %q", got)
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", path})
	if err := cmd.Execute(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("init over existing file error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}
