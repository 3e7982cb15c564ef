package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/microscpi/metrics"
	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/pkg/prof"
	"github.com/ardnew/microscpi/transport/serial"
	"github.com/ardnew/microscpi/transport/ws"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var (
		serialPort  string
		baudRate    int
		wsListen    string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the instrument on simulated hardware",
		Long: `Run the instrument and serve it on every enabled transport until
interrupted. Flags enable a transport and override its configured address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if serialPort != "" {
				cfg.Serial.Enabled = true
				cfg.Serial.Port = serialPort
			}
			if cmd.Flags().Changed("baud") {
				cfg.Serial.BaudRate = baudRate
			}
			if wsListen != "" {
				cfg.WebSocket.Enabled = true
				cfg.WebSocket.Listen = wsListen
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Listen = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&serialPort, "serial", "", "serve the console on this serial port")
	cmd.Flags().IntVar(&baudRate, "baud", serial.DefaultBaudRate, "serial baud rate")
	cmd.Flags().StringVar(&wsListen, "ws", "", "serve WebSocket on this address")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	return cmd
}

func serve(ctx context.Context, opts *options) error {
	cfg := opts.cfg
	m := metrics.New()
	b, err := newBench(cfg, m)
	if err != nil {
		return err
	}
	if err := b.start(ctx); err != nil {
		return err
	}
	defer b.stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Serial.Enabled {
		port, err := serial.Open(cfg.Serial.Port, cfg.Serial.BaudRate)
		if err != nil {
			return err
		}
		console := serial.NewConsole(port, b.engine(), m)
		g.Go(func() error { return console.Run(ctx) })
		pkg.LogInfo(component, "serial console enabled",
			"port", cfg.Serial.Port,
			"baud", cfg.Serial.BaudRate)
	}

	if cfg.WebSocket.Enabled {
		wsServer := ws.NewServer(b.engine(), m)
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocket.Path, wsServer)
		g.Go(func() error {
			defer wsServer.Close()
			return listen(ctx, cfg.WebSocket.Listen, mux)
		})
		pkg.LogInfo(component, "websocket enabled",
			"listen", cfg.WebSocket.Listen,
			"path", cfg.WebSocket.Path)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		prof.Register(mux)
		g.Go(func() error { return listen(ctx, cfg.Metrics.Listen, mux) })
		pkg.LogInfo(component, "metrics enabled",
			"listen", cfg.Metrics.Listen,
			"path", cfg.Metrics.Path)
	}

	pkg.LogInfo(component, "instrument running", "identity", cfg.Identity.String())
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	err = g.Wait()
	pkg.LogInfo(component, "shutting down")
	return err
}

// listen serves handler on addr until ctx is done.
func listen(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
