// Command terminalctl is a small demo CLI that opens one account
// connection, waits for initial synchronization, prints account
// information and open positions, then waits for SIGINT/SIGTERM and closes
// the connection before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metarpc/terminal-sdk/config"
	"github.com/metarpc/terminal-sdk/connection"
	"github.com/metarpc/terminal-sdk/health"
	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/registry"
	"github.com/metarpc/terminal-sdk/syncengine"
	"github.com/metarpc/terminal-sdk/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	wsURL := flag.String("url", "", "transport websocket URL (overrides config host/port)")
	flag.Parse()

	// 1. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: failed to load configuration: %v", err)
	}

	// 2. Initialize logger.
	appLogger := logging.NewStdLogger(logging.LevelInfo)
	appLogger.Info(context.Background(), "logger initialized", map[string]any{"application": cfg.Application})

	// 3. Build the transport and connect it.
	url := *wsURL
	if url == "" {
		url = fmt.Sprintf("wss://%s:%d/ws", cfg.Host, cfg.Port)
	}
	t := transport.NewWebsocketTransport(url, cfg.TLSInsecureSkipVerify, cfg.PacketOrderingTimeout(), appLogger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout())
	err = t.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalf("FATAL: failed to connect transport: %v", err)
	}
	defer t.Close()
	appLogger.Info(context.Background(), "transport connected", map[string]any{"url": url})

	// 4. Build the registry and open the account connection.
	reg := registry.New[*connection.Connection]()
	metrics := health.NewMetrics(nil, cfg.AccountID)

	openCtx, openCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout())
	defer openCancel()

	conn, err := reg.Connect(openCtx, cfg.AccountID, func(ctx context.Context, accountID string) (*connection.Connection, error) {
		c := connection.New(connection.Options{
			AccountID: accountID,
			Config:    cfg,
			Transport: t,
			Metrics:   metrics,
			Logger:    appLogger,
			Registry:  reg,
		})
		if err := c.Initialize(ctx); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		log.Fatalf("FATAL: failed to open connection for account %s: %v", cfg.AccountID, err)
	}
	appLogger.Info(context.Background(), "connection opened", map[string]any{"accountId": cfg.AccountID})

	// 5. Wait for initial synchronization.
	syncCtx, syncCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = conn.WaitSynchronized(syncCtx, syncengine.WaitSynchronizedOptions{TimeoutInSeconds: 60})
	syncCancel()
	if err != nil {
		appLogger.Error(context.Background(), err, "wait for synchronization failed")
	} else {
		appLogger.Info(context.Background(), "synchronized", nil)
	}

	// 6. Print a snapshot of account state.
	if info, ok := conn.State.AccountInformation(); ok {
		fmt.Printf("account %s: balance=%s equity=%s currency=%s\n", cfg.AccountID, info.Balance, info.Equity, info.Currency)
	}
	for _, p := range conn.State.Positions() {
		fmt.Printf("position %s %s volume=%s profit=%s\n", p.ID, p.Symbol, p.Volume, p.Profit)
	}

	// 7. Wait for a termination signal, then close cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := conn.Close(closeCtx); err != nil {
		appLogger.Error(context.Background(), err, "error closing connection")
	}
	appLogger.Info(context.Background(), "terminalctl exiting")
}
