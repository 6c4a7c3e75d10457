package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/pool"
	"github.com/oursky/kube-agent-pool/pkg/utils/httputil"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Pool interface {
	Create(ctx context.Context, req pool.CreateRequest, cluster pool.ClusterConfig) (pool.Instance, bool, error)
	Find(cluster pool.ClusterConfig, id string) (pool.Instance, bool)
	Terminate(ctx context.Context, cluster pool.ClusterConfig, id string) error
	IsAssignable(cluster pool.ClusterConfig, id string, work pool.WorkRequest) bool
	JobAssigned(cluster pool.ClusterConfig, id string)
	JobCompleted(ctx context.Context, cluster pool.ClusterConfig, id string) error
	Ping(ctx context.Context, clusters ...pool.ClusterConfig) error
}

type Server struct {
	logger   *zap.Logger
	enabled  bool
	server   *http.Server
	pool     Pool
	validate *validator.Validate
}

func NewServer(logger *zap.Logger, config *Config, p Pool, gatherer prometheus.Gatherer) *Server {
	if config.Disabled {
		return &Server{enabled: false}
	}

	logger = logger.Named("api")

	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	r := mux.NewRouter()
	server := &Server{
		logger:  logger,
		enabled: true,
		server: &http.Server{
			Addr:         config.GetAddr(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			Handler:      r,
			ErrorLog:     zap.NewStdLog(logger),
		},
		pool:     p,
		validate: validate,
	}

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger.Named("prom")),
	}))

	apiR := r.PathPrefix("/api/v1").Subrouter()
	apiR.Use(httputil.NewKeyAuth(config.AuthKeys).Middleware)

	apiR.HandleFunc("/ping", server.apiPing).Methods("POST")
	apiR.HandleFunc("/instances", server.apiCreate).Methods("POST")
	apiR.HandleFunc("/instances/{id}/find", server.apiFind).Methods("POST")
	apiR.HandleFunc("/instances/{id}/terminate", server.apiTerminate).Methods("POST")
	apiR.HandleFunc("/instances/{id}/assignable", server.apiAssignable).Methods("POST")
	apiR.HandleFunc("/instances/{id}/assigned", server.apiAssigned).Methods("POST")
	apiR.HandleFunc("/instances/{id}/job-completion", server.apiJobCompletion).Methods("POST")

	return server
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start(ctx context.Context, g *errgroup.Group) error {
	if !s.enabled {
		return nil
	}

	g.Go(func() error {
		go func() {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.server.Shutdown(shutdownCtx)
		}()

		s.logger.Info("starting server", zap.String("addr", s.server.Addr))
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	})
	return nil
}

func (s *Server) decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		http.Error(rw, "invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		http.Error(rw, "invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) fail(rw http.ResponseWriter, err error) {
	if errors.Is(err, pool.ErrUnsupportedCreationMode) {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Warn("request failed", zap.Error(err))
	http.Error(rw, err.Error(), http.StatusInternalServerError)
}
