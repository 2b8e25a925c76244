// Terminal front end of the shopper chat widget: one room, keyed by the shopper's user id.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"

	"github.com/supportchat/internal/api"
	"github.com/supportchat/internal/channel"
	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/notify"
	"github.com/supportchat/internal/render"
	"github.com/supportchat/internal/startup"
	"github.com/supportchat/internal/widget"
	"github.com/supportchat/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	logger.SetPrefix("widget")
	cfg, err := config.Load(*configPath, "config/widget.yaml")
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if cfg.IsAgent {
		logger.Error("widget: IS_AGENT is set, use the console instead")
		os.Exit(1)
	}
	identity := cfg.Identity()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := channel.NewManager(ws.Dialer(ws.OptionsFromConfig(cfg)))
	backend := api.NewClient(cfg.APIURL, identity, cfg.HTTPTimeout)
	store, err := startup.OpenLedgerStore(ctx, cfg, "widget: ")
	if err != nil {
		logger.Errorf("ledger store: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	ledger := notify.NewLedger(backend, store, identity.UserID)
	defer ledger.Close()
	_ = ledger.Restore(ctx)

	w := widget.New(identity, mgr, backend, ledger, widget.OptionsFromConfig(cfg))
	printer := render.New(os.Stdout, color.SupportColor())

	feed := printer.Feed()

	if err := w.Mount(ctx); err != nil {
		logger.Errorf("mount: %v", err)
		os.Exit(1)
	}
	defer w.Unmount()
	feed.Show(w.Messages())
	w.OnChange(func() { feed.Show(w.Messages()) })

	if cfg.MetricsAddr != "" {
		srv := startup.ServeMetrics(cfg.MetricsAddr, cfg.MetricsSecret, mgr.Connected)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	printer.Notice("Type a message and press Enter. Commands: /open /close /status /quit")
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			switch {
			case line == "":
			case line == "/quit":
				return
			case line == "/open":
				_ = w.Open(ctx)
			case line == "/close":
				w.Close()
			case line == "/status":
				who := ""
				if w.AgentTyping() {
					who = "support"
				}
				printer.Status(w.Online(), w.Unread(), who)
			default:
				w.Keystroke()
				if err := w.Send(ctx, line); err != nil {
					printer.Notice("not sent: %v", err)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case <-done:
	}
	if err := mgr.Disconnect(); err != nil {
		logger.Errorf("disconnect: %v", err)
	}
	logger.Info("widget stopped")
}
