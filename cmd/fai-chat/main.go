// Command fai-chat serves the conversation engine over HTTP with
// server-sent events, with assistants and credentials taken from a TOML
// config file and the environment.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/nats-io/nats.go"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"

	"github.com/helsingborg-stad/fai-chat/assistant"
	"github.com/helsingborg-stad/fai-chat/chat"
	"github.com/helsingborg-stad/fai-chat/completions"
	"github.com/helsingborg-stad/fai-chat/config"
	"github.com/helsingborg-stad/fai-chat/pkg/slogx"
	"github.com/helsingborg-stad/fai-chat/provider"
	_ "github.com/helsingborg-stad/fai-chat/provider/anthropic"
	_ "github.com/helsingborg-stad/fai-chat/provider/openai"
	"github.com/helsingborg-stad/fai-chat/store"
	"github.com/helsingborg-stad/fai-chat/stream"
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slogx.Error(err))
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("server exited", slogx.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	conversations, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := completions.New(completions.WithTimeout(cfg.Timeouts.Completion.Std()))
	if err != nil {
		return err
	}

	assistants, err := staticAssistants(cfg)
	if err != nil {
		return err
	}

	options := []chat.Option{
		chat.WithCredentials(provider.KindOpenAI, provider.Credentials{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		}),
		chat.WithCredentials(provider.KindAnthropic, provider.Credentials{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		}),
	}
	if cfg.Scoring.AssistantID != "" {
		options = append(options, chat.WithScoringAssistant(cfg.Scoring.AssistantID))
	}

	orchestrator, err := chat.New(assistants, conversations, svc, options...)
	if err != nil {
		return err
	}

	var mirror stream.Writer
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer conn.Close()
		mirror = stream.NewNATSWriter(conn, cfg.NATS.SubjectPrefix)
		slog.Info("mirroring chat events to nats", slog.String("url", cfg.NATS.URL))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", startChat(orchestrator, mirror))
	mux.HandleFunc("POST /chat/{id}", continueChat(orchestrator, mirror))

	slog.Info("listening", slog.String("addr", cfg.Addr))
	return http.ListenAndServe(cfg.Addr, mux)
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.Path == "" {
		slog.Warn("no store path configured, conversations will not survive restarts")
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func staticAssistants(cfg *config.Config) (assistant.Static, error) {
	assistants := make(assistant.Static, len(cfg.Assistants))
	for _, a := range cfg.Assistants {
		kind, err := provider.ParseKind(a.Provider)
		if err != nil {
			return nil, err
		}
		assistants[a.ID] = assistant.Assistant{
			ID:                   a.ID,
			Provider:             kind,
			Model:                a.Model,
			Instructions:         a.Instructions,
			CollectionID:         a.CollectionID,
			MaxCollectionResults: a.MaxCollectionResults,
		}
	}
	return assistants, nil
}

type startRequest struct {
	AssistantID string `json:"assistant_id"`
	Message     string `json:"message"`
}

type continueRequest struct {
	Message     string `json:"message"`
	RestartFrom string `json:"restart_from,omitempty"`
}

func startChat(o *chat.Orchestrator, mirror stream.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		events := o.StartNewChat(r.Context(), userID(r), req.AssistantID, req.Message)
		pump(r.Context(), w, events, mirror)
	}
}

func continueChat(o *chat.Orchestrator, mirror stream.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid conversation id", http.StatusBadRequest)
			return
		}
		var req continueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		restartFrom := uuid.Nil
		if req.RestartFrom != "" {
			if restartFrom, err = uuid.Parse(req.RestartFrom); err != nil {
				http.Error(w, "invalid restart point", http.StatusBadRequest)
				return
			}
		}
		events := o.ContinueChat(r.Context(), userID(r), conversationID, req.Message, restartFrom)
		pump(r.Context(), w, events, mirror)
	}
}

func pump(ctx context.Context, w http.ResponseWriter, events <-chan chat.Event, mirror stream.Writer) {
	writer := stream.Writer(stream.NewSSEWriter(w))
	if mirror != nil {
		writer = stream.MultiWriter(writer, mirror)
	}
	if err := stream.Pump(ctx, events, writer); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("event stream failed", slogx.Error(err))
	}
}

// userID trusts the gateway in front of this service to authenticate the
// caller and forward its identity.
func userID(r *http.Request) string {
	if uid := r.Header.Get("X-User-Id"); uid != "" {
		return uid
	}
	return "anonymous"
}
