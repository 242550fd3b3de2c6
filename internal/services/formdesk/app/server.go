// Package server wires the formdesk runtime: storage, collection schema,
// dispatch engine and the HTTP and gRPC transports.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/formdesk/internal/platform/grpc"
	"github.com/louisbranch/formdesk/internal/platform/logging"
	"github.com/louisbranch/formdesk/internal/platform/timeouts"
	grpcdispatch "github.com/louisbranch/formdesk/internal/services/formdesk/api/grpc/dispatch"
	"github.com/louisbranch/formdesk/internal/services/formdesk/api/httpapi"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authn"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authz"
	"github.com/louisbranch/formdesk/internal/services/formdesk/dispatch"
	"github.com/louisbranch/formdesk/internal/services/formdesk/domain/button"
	"github.com/louisbranch/formdesk/internal/services/formdesk/form"
	"github.com/louisbranch/formdesk/internal/services/formdesk/projection"
	"github.com/louisbranch/formdesk/internal/services/formdesk/schema"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage"
	"github.com/louisbranch/formdesk/internal/services/formdesk/storage/sqlite"
)

// Config describes one formdesk process.
type Config struct {
	HTTPAddr   string
	GRPCAddr   string
	DBPath     string
	SchemaPath string
	// JWTSecret enables bearer authentication. Without it every caller is
	// anonymous.
	JWTSecret string
	JWTIssuer string
	// AllowAnonymous replaces the schema policy with one that allows
	// every operation.
	AllowAnonymous bool
	// Handlers backs custom buttons that name a Go handler.
	Handlers map[string]button.Handler
	Logger   *zap.Logger
}

// Server hosts the formdesk HTTP and gRPC APIs over one store.
type Server struct {
	logger       *zap.Logger
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	projections  *projection.Cache
	store        *sqlite.Store

	closeOnce sync.Once
}

// New loads the schema, opens the store and binds both listeners.
func New(cfg Config) (*Server, error) {
	logger := logging.OrNop(cfg.Logger)

	doc, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", cfg.SchemaPath, err)
	}

	var storeOpts []sqlite.Option
	for collection, fields := range doc.FilterFields() {
		storeOpts = append(storeOpts, sqlite.WithFilterFields(collection, fields...))
	}
	store, err := openStore(cfg.DBPath, storeOpts...)
	if err != nil {
		return nil, err
	}

	root, err := schema.Build(doc, schema.BuildOptions{
		Repository: func(alias string) storage.Repository { return store.Repository(alias) },
		Handlers:   cfg.Handlers,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build collections: %w", err)
	}

	var authorizer authz.Authorizer = authz.NewPolicyEvaluator(doc.Rules())
	if cfg.AllowAnonymous {
		logger.Warn("anonymous mode enabled, every operation is allowed")
		authorizer = authz.AllowAll{}
	}

	var verifier *authn.TokenVerifier
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		verifier, err = authn.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	projections := projection.NewCache(logger)
	engine, err := dispatch.New(dispatch.Deps{
		Collections: root,
		Authorizer:  authorizer,
		Validator:   form.NewRuleValidator(),
		Projections: projections,
		Logger:      logger,
	})
	if err != nil {
		_ = projections.Close()
		_ = store.Close()
		return nil, fmt.Errorf("create dispatch engine: %w", err)
	}

	handler, err := httpapi.NewHandler(engine, httpapi.Options{Verifier: verifier, Logger: logger})
	if err != nil {
		_ = projections.Close()
		_ = store.Close()
		return nil, err
	}

	s := &Server{logger: logger, projections: projections, store: store}
	s.httpListener, err = net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	s.grpcListener, err = net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
		ErrorLog:          zap.NewStdLog(logger),
	}
	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcdispatch.UnaryIdentity(verifier, logger)),
	)
	grpcdispatch.RegisterDispatchServiceServer(s.grpcServer, grpcdispatch.NewService(engine, logger))
	s.health = platformgrpc.RegisterHealth(s.grpcServer, grpcdispatch.ServiceName)
	return s, nil
}

// HTTPAddr returns the bound HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC listener address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates a server and serves it until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs both transports until ctx is cancelled or one of them fails,
// then drains the other.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	s.logger.Info("formdesk listening",
		zap.String("http_addr", s.HTTPAddr()),
		zap.String("grpc_addr", s.GRPCAddr()),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := s.httpServer.Serve(s.httpListener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	})
	group.Go(func() error {
		err := s.grpcServer.Serve(s.grpcListener)
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close releases server resources. It is safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.projections != nil {
		if err := s.projections.Close(); err != nil {
			s.logger.Warn("close projection cache", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close store", zap.Error(err))
		}
	}
}

func openStore(path string, opts ...sqlite.Option) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("open formdesk sqlite store: %w", err)
	}
	return store, nil
}
