// chattail joins one community chat topic and tails its timeline as JSON
// lines: history first, then live messages as they arrive. It is the
// headless equivalent of the community chat screen and exercises the full
// path: credential store, session check, history read, live bus.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"matchday-chat/go-client/internal/backend"
	"matchday-chat/go-client/internal/bus"
	"matchday-chat/go-client/internal/chat"
	"matchday-chat/go-client/internal/config"
	"matchday-chat/go-client/internal/credstore"
	"matchday-chat/go-client/internal/platform/privacylog"
	"matchday-chat/go-client/internal/platform/ratelimiter"
	"matchday-chat/go-client/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	envFile := flag.String("env-file", "", "Path to a .env file loaded before config (optional)")
	communityID := flag.String("community", "", "Community topic ID to join (required)")
	selfID := flag.String("self-id", "", "Own user ID, used to mark outgoing echoes (optional)")
	saveToken := flag.String("save-token", "", "Persist this bearer token to the credential store and exit")
	sendStdin := flag.Bool("send-stdin", false, "Publish each line read from stdin to the joined community")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chattail version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	if err := run(*configPath, *envFile, *communityID, *selfID, *saveToken, *sendStdin, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "chattail: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, communityID, selfID, saveToken string, sendStdin, verbose bool) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(configPath, configPath != "")
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(privacylog.WrapHandler(handler))
	slog.SetDefault(logger)

	creds, err := openCredStore(cfg.Credentials)
	if err != nil {
		return err
	}
	if saveToken != "" {
		if err := creds.SaveToken(saveToken); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		logger.Info("bearer token saved", "component", "chattail")
		return nil
	}
	if communityID == "" {
		return fmt.Errorf("-community is required")
	}

	client, err := backend.NewClient(backend.Options{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		Tokens:         creds,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	session := chat.NewSession(chat.SessionOptions{
		Community: models.Community{ID: communityID},
		SelfID:    selfID,
		History:   client,
		Limiter:   ratelimiter.New(cfg.Send.PerSecond, cfg.Send.Burst, 10*time.Minute),
		Logger:    logger,
		Metrics:   chat.NewMetrics(registry),
		NewConn: func(onMessage func(body []byte)) chat.Conn {
			return bus.New(cfg.Bus, bus.Options{
				Tokens:    creds,
				Validator: client,
				Logger:    logger,
				Metrics:   bus.NewMetrics(registry),
				OnMessage: onMessage,
			})
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Subscribe before the live connection exists so no append slips
	// between the snapshot and the feed.
	_, events, cancel := session.Events(0)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Close()

	if sendStdin {
		go sendLines(session, logger)
	}

	out := json.NewEncoder(os.Stdout)
	printed := make(map[string]struct{})
	snapshot := session.Snapshot()
	logger.Info("session started",
		"component", "chattail",
		"community_id", communityID,
		"history", len(snapshot))
	for _, msg := range snapshot {
		printed[msg.ID] = struct{}{}
		if err := out.Encode(msg); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "component", "chattail")
			return nil
		case event, ok := <-events:
			if !ok {
				status := session.Status()
				if status.State == bus.StateFailed {
					return fmt.Errorf("connection failed: %s: %s", status.Reason, status.LastError)
				}
				return fmt.Errorf("event feed closed")
			}
			if _, dup := printed[event.Message.ID]; dup {
				continue
			}
			printed[event.Message.ID] = struct{}{}
			if err := out.Encode(event.Message); err != nil {
				return err
			}
		}
	}
}

// sendLines publishes each non-empty stdin line until EOF. Rejected sends
// are logged and skipped; the tail keeps running.
func sendLines(session *chat.Session, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := session.Send(line, nil); err != nil {
			logger.Warn("send rejected", "component", "chattail", "error", err.Error())
		}
	}
}

func openCredStore(cfg config.CredentialsConfig) (*credstore.Store, error) {
	path := cfg.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".matchday-chat", "credentials")
	}
	passphrase := cfg.Passphrase
	if passphrase == "" {
		passphrase = os.Getenv("MDC_CREDENTIALS_PASSPHRASE")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("credential passphrase is required (MDC_CREDENTIALS_PASSPHRASE)")
	}
	return credstore.Open(path, passphrase), nil
}
