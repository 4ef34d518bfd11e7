package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for facts and extraction requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, e),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// extractGuard tracks extraction runs in flight so two requests for the
// same person never write the store concurrently.
type extractGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newExtractGuard() *extractGuard {
	return &extractGuard{inFlight: make(map[string]struct{})}
}

func (g *extractGuard) tryAcquire(personID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, running := g.inFlight[personID]; running {
		return false
	}
	g.inFlight[personID] = struct{}{}
	return true
}

func (g *extractGuard) release(personID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, personID)
}

// newRouter builds the HTTP API. The passed context outlives individual
// requests so detached extraction runs are only cancelled by shutdown.
func newRouter(ctx context.Context, e *env) http.Handler {
	guard := newExtractGuard()
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/people/{personID}/facts", func(w http.ResponseWriter, req *http.Request) {
		shared := req.URL.Query().Get("shared") == "true"
		facts, err := e.Service.List(req.Context(), chi.URLParam(req, "personID"), shared)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if facts == nil {
			facts = []model.Fact{}
		}
		writeJSON(w, http.StatusOK, facts)
	})

	r.Post("/api/people/{personID}/extract", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Name         string              `json:"name"`
			Interactions []model.Interaction `json:"interactions"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if body.Name == "" || len(body.Interactions) == 0 {
			writeError(w, http.StatusBadRequest, eris.New("name and interactions are required"))
			return
		}

		personID := chi.URLParam(req, "personID")

		if !guard.tryAcquire(personID) {
			writeError(w, http.StatusConflict,
				eris.Errorf("extraction already running for %s", personID))
			return
		}

		// Extraction runs for minutes on large histories; accept and
		// detach from the request context.
		go func() {
			defer guard.release(personID)
			stored, err := e.Service.ExtractFacts(ctx, personID, body.Name, body.Interactions)
			if err != nil {
				zap.L().Error("extraction request failed",
					zap.String("person_id", personID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("extraction request complete",
				zap.String("person_id", personID),
				zap.Int("stored", len(stored)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":    "accepted",
			"person_id": personID,
		})
	})

	r.Post("/api/facts/{factID}/confirm", func(w http.ResponseWriter, req *http.Request) {
		factID := chi.URLParam(req, "factID")
		if err := e.Service.Confirm(req.Context(), factID); err != nil {
			writeError(w, statusForStoreErr(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed", "fact_id": factID})
	})

	r.Delete("/api/facts/{factID}", func(w http.ResponseWriter, req *http.Request) {
		factID := chi.URLParam(req, "factID")
		if err := e.Service.Delete(req.Context(), factID); err != nil {
			writeError(w, statusForStoreErr(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForStoreErr(err error) int {
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
