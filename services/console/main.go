// Terminal front end of the agent console: room directory plus one active room.
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
	"github.com/supportchat/internal/console"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/notify"
	"github.com/supportchat/internal/render"
	"github.com/supportchat/internal/startup"
	"github.com/supportchat/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	logger.SetPrefix("console")
	cfg, err := config.Load(*configPath, "config/console.yaml")
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if !cfg.IsAgent {
		logger.Error("console: IS_AGENT is not set, use the widget instead")
		os.Exit(1)
	}
	identity := cfg.Identity()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := channel.NewManager(ws.Dialer(ws.OptionsFromConfig(cfg)))
	backend := api.NewClient(cfg.APIURL, identity, cfg.HTTPTimeout)
	store, err := startup.OpenLedgerStore(ctx, cfg, "console: ")
	if err != nil {
		logger.Errorf("ledger store: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	ledger := notify.NewLedger(backend, store, identity.UserID)
	defer ledger.Close()
	_ = ledger.Restore(ctx)

	c := console.New(identity, mgr, backend, ledger, console.OptionsFromConfig(cfg))
	printer := render.New(os.Stdout, color.SupportColor())
	feed := printer.Feed()

	if err := c.Mount(ctx); err != nil {
		logger.Errorf("mount: %v", err)
		os.Exit(1)
	}
	defer c.Unmount()
	c.OnChange(func() { feed.Show(c.Messages()) })

	if cfg.MetricsAddr != "" {
		srv := startup.ServeMetrics(cfg.MetricsAddr, cfg.MetricsSecret, mgr.Connected)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	printer.Rooms(c.Rooms(), "")
	printer.Notice("Commands: /rooms /open <room> /status /clear /quit; anything else goes to the active room")
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
			case line == "/rooms":
				c.RefreshRooms(ctx)
				printer.Rooms(c.Rooms(), c.ActiveRoom())
			case strings.HasPrefix(line, "/open "):
				roomID := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
				feed.Reset()
				if err := c.Select(ctx, roomID); err != nil {
					printer.Notice("cannot open %s: %v", roomID, err)
					continue
				}
				printer.Notice("== room %s ==", roomID)
				feed.Show(c.Messages())
			case line == "/status":
				who := ""
				if c.ActiveTyping() {
					who = "customer"
				}
				printer.Status(c.Online(), ledger.Count(), who)
			case line == "/clear":
				ledger.ClearAll()
			default:
				c.Keystroke()
				if err := c.Send(ctx, line); err != nil {
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
	logger.Info("console stopped")
}
