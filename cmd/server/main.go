// Command server is the aurevox orchestrator's process entrypoint:
// load configuration and credentials, wire upstream providers, start
// the HTTP+websocket surface, and shut down gracefully on SIGINT/
// SIGTERM. Grounded on the teacher's cmd/agent/main.go (the same
// godotenv.Load + provider-selection switch + signal-handling tail),
// adapted from "init one local audio stream" to "start a server and
// let the registry own many sessions."
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aurevox-ai/aurevox-orchestrator/internal/config"
	"github.com/aurevox-ai/aurevox-orchestrator/internal/httpapi"
	"github.com/aurevox-ai/aurevox-orchestrator/internal/logging"
	"github.com/aurevox-ai/aurevox-orchestrator/internal/transport"
	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
	"github.com/aurevox-ai/aurevox-orchestrator/pkg/providers/llm"
	"github.com/aurevox-ai/aurevox-orchestrator/pkg/providers/stt"
	"github.com/aurevox-ai/aurevox-orchestrator/pkg/providers/tts"
	"github.com/aurevox-ai/aurevox-orchestrator/pkg/transcriber"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "aurevox: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(os.Getenv("DEBUG") != "")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	sttBatch := buildSTT(cfg.Tunables, cfg.Credentials)
	responder := buildLLM(cfg.Tunables, cfg.Credentials)
	synthesizer := buildTTS(cfg.Credentials)

	var transcriberProvider orchestrator.TranscriberProvider
	switch cfg.Tunables.STTStreamProvider {
	case "deepgram-stream":
		if cfg.Credentials.DeepgramAPIKey == "" {
			return errors.New("DEEPGRAM_API_KEY must be set for the deepgram-stream backend")
		}
		transcriberProvider = transcriber.NewDeepgramStreamProvider(cfg.Credentials.DeepgramAPIKey)
	case "realtime-stream":
		if cfg.Credentials.AssemblyAIAPIKey == "" {
			return errors.New("ASSEMBLYAI_API_KEY must be set for the realtime-stream backend")
		}
		transcriberProvider = transcriber.NewRealtimeStreamProvider(cfg.Credentials.AssemblyAIAPIKey)
	default:
		if sttBatch != nil {
			transcriberProvider = transcriber.NewBatchProvider(sttBatch, cfg.Orchestrator.SampleRate)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)

	orch := orchestrator.New(transcriberProvider, responder, synthesizer, metrics, cfg.Orchestrator, logger)

	logger.Info("providers configured", "providers", orch.Providers())

	gateway := transport.NewGateway(orch, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.Handle("/", httpapi.NewRouter(orch, reg, os.Getenv("STATIC_DIR"), time.Now()))

	addr := fmt.Sprintf(":%d", cfg.Tunables.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-sig:
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orch.Shutdown()
	return srv.Shutdown(shutdownCtx)
}

// buildSTT wires the batch STT provider named by tunables (used
// directly, or wrapped into a duplex Transcriber by pkg/transcriber),
// mirroring the teacher's STT selection switch in cmd/agent/main.go.
func buildSTT(t config.Tunables, c config.Credentials) orchestrator.STTProvider {
	switch t.STTProvider {
	case "openai":
		if c.OpenAIAPIKey != "" {
			return stt.NewOpenAISTT(c.OpenAIAPIKey, "whisper-1")
		}
	case "deepgram":
		if c.DeepgramAPIKey != "" {
			return stt.NewDeepgramSTT(c.DeepgramAPIKey)
		}
	case "assemblyai":
		if c.AssemblyAIAPIKey != "" {
			return stt.NewAssemblyAISTT(c.AssemblyAIAPIKey)
		}
	case "groq":
		fallthrough
	default:
		if c.GroqAPIKey != "" {
			return stt.NewGroqSTT(c.GroqAPIKey, "")
		}
	}
	return nil
}

// buildLLM wires the Responder named by tunables, mirroring the
// teacher's LLM selection switch.
func buildLLM(t config.Tunables, c config.Credentials) orchestrator.Responder {
	switch t.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey != "" {
			return llm.NewOpenAILLM(c.OpenAIAPIKey, "")
		}
	case "anthropic":
		if c.AnthropicAPIKey != "" {
			return llm.NewAnthropicLLM(c.AnthropicAPIKey, "")
		}
	case "google":
		if c.GoogleAPIKey != "" {
			return llm.NewGoogleLLM(c.GoogleAPIKey, "")
		}
	case "groq":
		fallthrough
	default:
		if c.GroqAPIKey != "" {
			return llm.NewGroqLLM(c.GroqAPIKey, "")
		}
	}
	// A Responder with no configured credential falls back to a canned
	// reply (§6.4 "absence of any credential disables only that
	// capability... a canned fallback reply from the Responder").
	return fallbackResponder{}
}

// buildTTS wires the Lokutor Synthesizer, or nil if its credential is
// absent — TBIC then emits tts-unavailable instead of attempting
// synthesis (§7).
func buildTTS(c config.Credentials) orchestrator.Synthesizer {
	if c.LokutorAPIKey == "" {
		return nil
	}
	return tts.NewLokutorTTS(c.LokutorAPIKey)
}

// fallbackResponder is the Responder used when no LLM credential is
// configured: it always succeeds with a fixed, non-empty reply rather
// than failing every turn.
type fallbackResponder struct{}

func (fallbackResponder) Name() string { return "fallback-responder" }

func (fallbackResponder) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return "I'm currently running without a configured language model, so I can't generate a real reply.", nil
}
