package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"parkguard/internal/config"
	"parkguard/internal/model"
)

const maxBodyBytes = 8 << 20

type RESTServer struct {
	parser *Parser
	out    chan<- model.Frame
	logger *slog.Logger
	ctx    context.Context
}

func StartREST(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(ctx, parser, out, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func NewRESTServer(ctx context.Context, parser *Parser, out chan<- model.Frame, logger *slog.Logger) *RESTServer {
	return &RESTServer{parser: parser, out: out, logger: logger, ctx: ctx}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", s.handleFrames)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (s *RESTServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	frames, errs, err := s.parser.ParseBatch(body, "rest")
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest frame rejected", "err", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}
	for _, e := range errs {
		if s.logger != nil {
			s.logger.Warn("rest frame rejected", "err", e)
		}
	}
	accepted, dropped := 0, 0
	for _, frame := range frames {
		if SendNonBlocking(s.ctx, s.out, frame, s.logger) {
			accepted++
		} else {
			dropped++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"dropped":  dropped,
		"failed":   len(errs),
	})
}
