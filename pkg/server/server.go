package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/growattmon/growattmon/pkg/growatt"
	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/setup"
	"github.com/growattmon/growattmon/pkg/throttle"
	"github.com/levenlabs/go-lflag"
)

// AccountSource returns the current account. It is a function because a
// deferred setup swaps the placeholder for the real account after the
// server has started.
type AccountSource func() *setup.Account

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server exposes the collected device state and the write-capable settings
// endpoints over HTTP.
type Server struct {
	account AccountSource

	listenAddr   string
	oidcAudience string
	oidcVerifier tokenVerifier
	bypassAuth   bool
	serverName   string
	httpServer   *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(account AccountSource) *Server {
	srv := &Server{
		account:    account,
		serverName: "growattmon",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcAudience := lflag.String("oidc-audience", "", "Google OIDC audience/client ID to validate tokens against")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable authentication (local single-user deployments only)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.bypassAuth = *bypassAuth

		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcAudience = *oidcAudience
			srv.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}

		if !srv.bypassAuth && srv.oidcVerifier == nil {
			log.Ctx(context.Background()).Error("either oidc-audience or bypass-auth is required")
			os.Exit(1)
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/devices", s.handleListDevices)
	apiMux.HandleFunc("GET /api/devices/{sn}/data", s.handleDeviceData)
	apiMux.HandleFunc("GET /api/devices/{sn}/timesegments", s.handleGetTimeSegments)
	apiMux.HandleFunc("POST /api/devices/{sn}/timesegments", s.handleUpdateTimeSegment)
	apiMux.HandleFunc("GET /api/devices/{sn}/accharge", s.handleGetACCharge)
	apiMux.HandleFunc("POST /api/devices/{sn}/accharge", s.handleUpdateACCharge)
	apiMux.HandleFunc("GET /api/devices/{sn}/acdischarge", s.handleGetACDischarge)
	apiMux.HandleFunc("POST /api/devices/{sn}/acdischarge", s.handleUpdateACDischarge)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// writeError maps the error taxonomy onto HTTP statuses: validation → 400,
// throttled → 503 with Retry-After, vendor errors → 502, bad credentials →
// 401, anything else → 500.
func writeError(w http.ResponseWriter, err error) {
	var perr *growatt.ParameterError
	if errors.As(err, &perr) {
		writeJSONError(w, perr.Error(), http.StatusBadRequest)
		return
	}
	var nre *throttle.NotReadyError
	if errors.As(err, &nre) {
		w.Header().Set("Retry-After", strconv.Itoa(int(nre.Remaining.Seconds())))
		writeJSONError(w, nre.Error(), http.StatusServiceUnavailable)
		return
	}
	var apiErr *growatt.APIError
	if errors.As(err, &apiErr) {
		writeJSONError(w, apiErr.Error(), http.StatusBadGateway)
		return
	}
	if errors.Is(err, growatt.ErrInvalidAuth) {
		writeJSONError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSONError(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Strict-Transport-Security: max-age=2 years
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
