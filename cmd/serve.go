package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/schema-cli/internal/ingest"
	"github.com/sells-group/schema-cli/internal/model"
	"github.com/sells-group/schema-cli/internal/notify"
	"github.com/sells-group/schema-cli/internal/pipeline"
	"github.com/sells-group/schema-cli/internal/progress"
	"github.com/sells-group/schema-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for the admin dashboard",
	Long:  "Serves batch submission, run inspection, and live progress over SSE and websockets.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		offline, _ := cmd.Flags().GetBool("offline")
		env, err := initEnv(ctx, offline)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{env: env, baseCtx: ctx}
		r := newRouter(api)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(api *apiServer) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/submit", api.handleSubmit)
		r.Get("/runs", api.handleListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", api.handleGetRun)
			r.Delete("/", api.handleDeleteRun)
			r.Get("/progress", api.handleProgress)
			r.Get("/events", api.handleEvents)
			r.Get("/ws", api.handleWS)
		})
	})
	return r
}

type apiServer struct {
	env *env
	// baseCtx outlives individual requests; batch processing runs on it so a
	// closed client connection does not abort a run.
	baseCtx context.Context
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type submitRequest struct {
	Label       string `json:"label"`
	CSV         string `json:"csv,omitempty"`
	Paste       string `json:"paste,omitempty"`
	Overwrite   bool   `json:"overwrite"`
	Concurrency int    `json:"concurrency,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

type submitResponse struct {
	RunID      string   `json:"run_id,omitempty"`
	ValidRows  int      `json:"valid_rows"`
	Errors     []string `json:"errors,omitempty"`
	DryRun     bool     `json:"dry_run,omitempty"`
	StatusNote string   `json:"status,omitempty"`
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var rows []model.RawRow
	switch {
	case req.CSV != "" && req.Paste != "":
		writeError(w, http.StatusBadRequest, "provide csv or paste, not both")
		return
	case req.CSV != "":
		parsed, err := ingest.ParseCSV(strings.NewReader(req.CSV))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rows = parsed
	case req.Paste != "":
		rows = ingest.ParsePaste(req.Paste)
	default:
		writeError(w, http.StatusBadRequest, "csv or paste input is required")
		return
	}

	normalizer := ingest.NewNormalizer(s.env.catalog)
	valid, errs := normalizer.Validate(rows)
	if len(errs) > 0 || len(valid) == 0 {
		if len(errs) == 0 {
			errs = []string{"no valid rows"}
		}
		writeJSON(w, http.StatusUnprocessableEntity, submitResponse{
			ValidRows: len(valid),
			Errors:    errs,
		})
		return
	}
	if req.DryRun {
		writeJSON(w, http.StatusOK, submitResponse{ValidRows: len(valid), DryRun: true})
		return
	}

	run, err := s.env.orch.CreateRun(r.Context(), req.Label, valid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Batch.MaxConcurrentRows
	}
	go func() {
		opts := pipeline.Options{Overwrite: req.Overwrite, Concurrency: concurrency}
		if err := s.env.orch.Process(s.baseCtx, run.ID, opts); err != nil {
			zap.L().Error("run processing failed",
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, submitResponse{
		RunID:      run.ID,
		ValidRows:  len(valid),
		StatusNote: "accepted",
	})
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Label:  q.Get("label"),
		Limit:  50,
	}
	runs, err := s.env.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.env.store.GetRun(r.Context(), runID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items, err := s.env.store.ListRunItems(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "items": items})
}

func (s *apiServer) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.env.store.DeleteRun(r.Context(), runID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.env.store.GetRun(r.Context(), runID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items, err := s.env.store.ListRunItems(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := progress.Summarize(items)
	resp := map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"summary": summary,
	}
	if eta := progress.EstimateRemaining(summary, run.CreatedAt, time.Now()); eta != nil {
		resp["eta_ms"] = eta.Remaining.Milliseconds()
		resp["avg_ms_per_row"] = eta.AvgPerRow.Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams run progress as server-sent events until the run
// reaches a terminal status or the client disconnects.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if _, err := s.env.store.GetRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	events, cancel := s.env.broker.Subscribe(runID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
			if terminalRunEvent(ev) {
				return
			}
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait = 10 * time.Second
	wsPingEvery = 30 * time.Second
)

// handleWS streams the same progress events over a websocket.
func (s *apiServer) handleWS(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.env.store.GetRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close() //nolint:errcheck

	events, cancel := s.env.broker.Subscribe(runID)
	defer cancel()

	// Drain client frames so pong and close handling work.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if terminalRunEvent(ev) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// terminalRunEvent reports whether the event is a run-status delta that ends
// a watch stream.
func terminalRunEvent(ev notify.Event) bool {
	if ev.Kind != notify.EventRun {
		return false
	}
	return ev.Status == model.RunStatusComplete || ev.Status == model.RunStatusFailed
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().Bool("offline", false, "use stub collaborators instead of live services")
	rootCmd.AddCommand(serveCmd)
}
