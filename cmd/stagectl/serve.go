package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/probelab/sonicstage/pkg/server"
	"github.com/probelab/sonicstage/pkg/stage"
	"github.com/probelab/sonicstage/pkg/transport"
)

type ServeCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"sonicstage.json"`
	Listen string `long:"listen" short:"l" description:"Listen address (overrides config)"`
	Port   string `long:"port" short:"p" description:"Serial port (overrides config)"`
	Debug  bool   `long:"debug" description:"Verbose logging"`
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist so a freshly unpacked install still runs.
func loadConfig(path, port, listen string) *stage.Config {
	cfg, err := stage.LoadConfigFrom(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
			os.Exit(1)
		}
		slog.Warn("no config file, using defaults", "path", path)
		cfg = stage.DefaultConfig()
	}
	if port != "" {
		cfg.Port = port
	}
	if listen != "" {
		cfg.Listen = listen
	}
	return cfg
}

// openStage opens the serial link and builds a started stage around it.
func openStage(ctx context.Context, cfg *stage.Config) (*stage.Stage, *transport.Transport, error) {
	link, err := transport.Open(transport.Config{Port: cfg.Port, Baud: cfg.Baud})
	if err != nil {
		return nil, nil, fmt.Errorf("open transport: %w", err)
	}
	s := stage.New(cfg, link)
	s.Start(ctx)
	return s, link, nil
}

func (c *ServeCommand) Execute(args []string) error {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := loadConfig(c.Config, c.Port, c.Listen)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, link, err := openStage(ctx, cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.NewHandler(st),
	}

	// A failed mode restore leaves the firmware state unknown. Stop serving
	// rather than keep issuing motion against it.
	go func() {
		for {
			select {
			case err := <-st.Errors():
				slog.Error("motion fault, shutting down", "err", err)
				stop()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	if err := st.Close(shutdownCtx); err != nil {
		slog.Warn("stage shutdown", "err", err)
	}
	if err := link.Close(); err != nil {
		slog.Warn("transport close", "err", err)
	}
	return nil
}

type InitCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"sonicstage.json"`
	Port   string `long:"port" short:"p" description:"Serial port (overrides config)"`
}

func (c *InitCommand) Execute(args []string) error {
	cfg := loadConfig(c.Config, c.Port, "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, link, err := openStage(ctx, cfg)
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Println("Homing stage, this can take a minute...")
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	fmt.Println("Stage homed and parked at the init pose.")
	return nil
}
