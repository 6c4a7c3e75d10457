package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/pool"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type PoolState interface {
	Snapshot() []pool.ClusterSnapshot
}

type Server struct {
	logger *zap.Logger
	config *Config
	state  PoolState
	page   *template.Template
	mux    *http.ServeMux
}

func NewServer(logger *zap.Logger, config *Config, state PoolState) *Server {
	assets, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		panic(err)
	}

	s := &Server{
		logger: logger.Named("dashboard"),
		config: config,
		state:  state,
		page:   template.Must(template.New("index.html").Funcs(sprig.FuncMap()).ParseFS(assets, "index.html")),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /{$}", s.index)
	s.mux.Handle("GET /styles.css", http.FileServerFS(assets))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start(ctx context.Context, g *errgroup.Group) error {
	if s.config.Disabled {
		return nil
	}

	server := &http.Server{
		Addr:         s.config.GetAddr(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      s.mux,
		ErrorLog:     zap.NewStdLog(s.logger),
	}

	g.Go(func() error {
		go func() {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()

		s.logger.Info("starting server", zap.String("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dashboard: failed to run server: %w", err)
		}
		return nil
	})
	return nil
}

func (s *Server) render(rw http.ResponseWriter, data any) {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		s.logger.Error("failed to render page", zap.Error(err))
		http.Error(rw, "failed to render page", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Write(buf.Bytes())
}
