// Command gatewaydemo is a minimal chi HTTP surface over the Router
// (pkg/router), grounded on the teacher's examples/chi-server/main.go:
// same middleware stack (Logger/Recoverer/Timeout/cors), same
// single-file main(), generalized from "one hardcoded OpenAI model" to
// "whatever ModelConfig registry loadModelRegistry builds from the
// environment".
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/inferencegw/core/pkg/adapter"
	"github.com/inferencegw/core/pkg/cache"
	"github.com/inferencegw/core/pkg/credential"
	internalhttp "github.com/inferencegw/core/pkg/internal/http"
	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtelemetry"
	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/ratelimit"
	"github.com/inferencegw/core/pkg/router"
	"github.com/inferencegw/core/pkg/tasktracker"
)

func main() {
	models := loadModelRegistry()
	if len(models) == 0 {
		log.Fatal("no models configured: set at least one of OPENAI_API_KEY/ANTHROPIC_API_KEY")
	}

	tracker := tasktracker.New()
	clients := adapter.Clients{
		HTTP:       internalhttp.NewClient(internalhttp.Config{Timeout: 60 * time.Second}),
		Credential: credential.NewResolver(),
		RateLimit:  ratelimit.NewManager(),
		Cache:      cache.NewPort(cache.NewMemoryStore(5*time.Minute, 10_000)),
		Telemetry:  gwtelemetry.NewOtelSink(nil),
	}
	r := router.New(adapter.New(adapter.DefaultRegistry()), clients, tracker)

	h := &handler{router: r, models: models}

	mux := chi.NewRouter()
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Timeout(90 * time.Second))
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	mux.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"service": "inference gateway demo",
			"version": "0.1.0",
		})
	})
	mux.Post("/v1/chat/completions", h.handleChatCompletions)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		log.Printf("gatewaydemo listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := tracker.WaitContext(shutdownCtx); err != nil {
		log.Printf("gatewaydemo: deferred tasks did not all finish before shutdown: %v", err)
	}
}

// loadModelRegistry builds one demo ModelConfig named by DEMO_MODEL_NAME
// (default "demo-model") from whichever provider credentials are present
// in the environment, ordered openai-then-anthropic so a request fails
// over between them when both are configured.
func loadModelRegistry() map[string]gwtypes.ModelConfig {
	name := os.Getenv("DEMO_MODEL_NAME")
	if name == "" {
		name = "demo-model"
	}

	var providers []gwtypes.ProviderBinding
	if os.Getenv("OPENAI_API_KEY") != "" {
		providers = append(providers, gwtypes.ProviderBinding{
			Name:       "openai-primary",
			Kind:       "openai",
			ModelID:    envOr("OPENAI_MODEL_ID", "gpt-4o-mini"),
			Credential: gwtypes.Credential{Kind: gwtypes.CredentialEnv, EnvVar: "OPENAI_API_KEY"},
		})
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		providers = append(providers, gwtypes.ProviderBinding{
			Name:       "anthropic-fallback",
			Kind:       "anthropic",
			ModelID:    envOr("ANTHROPIC_MODEL_ID", "claude-3-5-haiku-20241022"),
			Credential: gwtypes.Credential{Kind: gwtypes.CredentialEnv, EnvVar: "ANTHROPIC_API_KEY"},
		})
	}
	if len(providers) == 0 {
		return nil
	}

	return map[string]gwtypes.ModelConfig{
		name: {
			Name:      name,
			Routing:   gwtypes.RoutingOrderedFailover,
			Providers: providers,
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type handler struct {
	router *router.Router
	models map[string]gwtypes.ModelConfig
}

// chatCompletionsRequest is the inbound wire shape: CanonicalRequest
// plus the model name that selects a ModelConfig from the registry
// (model selection lives at this layer, not inside the Router).
type chatCompletionsRequest struct {
	Model string `json:"model"`
	gwtypes.CanonicalRequest
}

func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	model, ok := h.models[req.Model]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown model %q", req.Model))
		return
	}

	correlationID := router.NewCorrelationID()
	w.Header().Set("X-Correlation-Id", correlationID)

	opts := router.RouteOptions{CacheMode: cache.Mode{EnabledRead: true, EnabledWrite: true}}

	if req.Stream {
		h.handleStream(w, r, model, &req.CanonicalRequest, opts)
		return
	}

	resp, err := h.router.Route(r.Context(), model, &req.CanonicalRequest, opts)
	if err != nil {
		writeRouteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *handler) handleStream(w http.ResponseWriter, r *http.Request, model gwtypes.ModelConfig, req *gwtypes.CanonicalRequest, opts router.RouteOptions) {
	wrapper, err := h.router.RouteStream(r.Context(), model, req, opts)
	if err != nil {
		writeRouteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for {
		chunk, err := wrapper.Next(r.Context())
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", sseEscapeError(err))
			}
			break
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			break
		}
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func sseEscapeError(err error) string {
	payload, marshalErr := json.Marshal(map[string]string{"message": err.Error()})
	if marshalErr != nil {
		return `{"message":"stream error"}`
	}
	return string(payload)
}

func writeRouteError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case gwerrors.IsInvalidRequestError(err):
		status = http.StatusBadRequest
	case gwerrors.IsRateLimitMissingMaxTokensError(err):
		status = http.StatusBadRequest
	case gwerrors.IsModelTimeoutError(err):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
