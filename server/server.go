// Package server hosts a controller process: control loop, peer coordination
// service with gRPC health, and the metrics HTTP endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xiaonanln/stam/config"
	"github.com/xiaonanln/stam/controller"
	"github.com/xiaonanln/stam/coordination"
	"github.com/xiaonanln/stam/digest"
	"github.com/xiaonanln/stam/events"
	"github.com/xiaonanln/stam/register"
	"github.com/xiaonanln/stam/util/logger"
	"github.com/xiaonanln/stam/util/postgres"
	"github.com/xiaonanln/stam/weights"
)

// Option customizes a Server.
type Option func(*Server)

// WithSink adds a sink that receives every event next to the log sink.
func WithSink(sink events.Sink) Option {
	return func(s *Server) { s.extraSinks = append(s.extraSinks, sink) }
}

// Server hosts one controller: the control loop, the peer coordination service
// with gRPC health, and the optional metrics/health HTTP endpoint.
type Server struct {
	cfg        *config.Config
	logger     *logger.Logger
	extraSinks []events.Sink

	mu          sync.Mutex
	coordinator *coordination.Coordinator
	grpcAddr    string
	httpAddr    string
	ready       chan struct{}
}

// NewServer creates a server from a validated configuration.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Controller.GRPCAddr == "" {
		return nil, fmt.Errorf("controller grpc_addr is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.NewLogger(fmt.Sprintf("Server(%s)", cfg.Controller.ID)),
		ready:  make(chan struct{}),
	}
	if cfg.Controller.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.Controller.LogLevel)
		if err != nil {
			return nil, err
		}
		logger.SetDefaultLevel(level)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// GRPCAddr returns the bound peer service address.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// HTTPAddr returns the bound metrics address, empty when disabled.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// State returns the coordination state, StateInit before Run.
func (s *Server) State() coordination.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coordinator == nil {
		return coordination.StateInit
	}
	return s.coordinator.State()
}

// Run runs the controller until ctx is cancelled or a component fails. It must be
// called at most once.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg
	self := cfg.Controller.ID

	keys, err := s.loadKeys(ctx)
	if err != nil {
		return err
	}

	sink, closeSink, err := s.buildSink(ctx)
	if err != nil {
		return err
	}
	defer closeSink()

	cache := digest.NewFlowCache(cfg.Digest.MaxEntries)
	digestSvc := digest.NewService(cfg.Digest.ListenAddr, cache)

	source, onLoad := s.buildSource(cache)

	peers := coordination.NewPeerClient(self, cfg.Peers, cfg.GetDisseminationTimeout())
	defer peers.Close()

	coord := coordination.NewCoordinator(coordination.Options{
		Self:        self,
		Controllers: cfg.Controllers,
		Keys:        keys,
		Source:      source,
		Thresholds: &coordination.Thresholds{
			TrafficVolume: *cfg.Thresholds.TrafficVolume,
			Delay:         *cfg.Thresholds.Delay,
		},
		Transport:     peers,
		Sink:          sink,
		FanoutWorkers: cfg.Dissemination.Workers,
	})
	s.mu.Lock()
	s.coordinator = coord
	s.mu.Unlock()

	layout := register.NewLayout(cfg.Device.MaxFlows, cfg.Device.MaxServers)
	driver := controller.NewDriver(controller.Options{
		ControllerID: self,
		Interval:     cfg.GetReportInterval(),
		Dial:         controller.GRPCDialer(cfg.Device.Address, layout, self),
		Coordinator:  coord,
		Digest:       digestSvc,
		Sink:         sink,
		OnLoad:       onLoad,
	})

	grpcLis, err := net.Listen("tcp", cfg.Controller.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Controller.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	coordination.RegisterPeerService(grpcServer, self, keys, coordination.SinkHintHandler(self, sink))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	var httpServer *http.Server
	var httpLis net.Listener
	if cfg.Controller.HTTPAddr != "" {
		httpLis, err = net.Listen("tcp", cfg.Controller.HTTPAddr)
		if err != nil {
			grpcLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", cfg.Controller.HTTPAddr, err)
		}
		httpServer = &http.Server{Handler: s.httpRoutes()}
	}

	s.mu.Lock()
	s.grpcAddr = grpcLis.Addr().String()
	if httpLis != nil {
		s.httpAddr = httpLis.Addr().String()
	}
	s.mu.Unlock()
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Infof("Peer gRPC server listening on %s", grpcLis.Addr())
		return grpcServer.Serve(grpcLis)
	})

	if httpServer != nil {
		g.Go(func() error {
			s.logger.Infof("Metrics HTTP server listening on %s", httpLis.Addr())
			if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		err := driver.Run(gctx)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		if err != nil {
			return err
		}
		// The driver only returns nil on cancellation; make sure the group winds down.
		return context.Canceled
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Infof("Shutting down servers...")
		grpcServer.GracefulStop()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Errorf("HTTP server shutdown error: %v", err)
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	s.logger.Infof("Controller %s stopped", self)
	return err
}

func (s *Server) loadKeys(ctx context.Context) (coordination.KeyTable, error) {
	cfg := s.cfg
	if cfg.Keys.Provider != config.KeyProviderEtcd {
		return coordination.StaticKeyTable(cfg.SharedKeys), nil
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	defer cli.Close()

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	keys, err := coordination.LoadEtcdKeyTable(loadCtx, cli, cfg.GetEtcdPrefix())
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Loaded %d shared keys from etcd %s", len(keys), cfg.GetEtcdAddress())
	return keys, nil
}

// buildSource returns the metrics source of the coordination step and the hook that
// feeds it the per-cycle load, nil for sources that need none.
func (s *Server) buildSource(cache *digest.FlowCache) (coordination.MetricsSource, func([]weights.LoadSample)) {
	if s.cfg.MetricsSource == config.MetricsSourceAggregate {
		src := coordination.NewAggregateSource(s.cfg.Aggregate.Capacity, cache, s.cfg.Aggregate.AlertFlows)
		return src, src.Observe
	}
	return coordination.NewSyntheticSource(time.Now().UnixNano()), nil
}

func (s *Server) buildSink(ctx context.Context) (events.Sink, func(), error) {
	sinks := events.MultiSink{events.NewLogSink(fmt.Sprintf("Events(%s)", s.cfg.Controller.ID))}
	sinks = append(sinks, s.extraSinks...)
	if !s.cfg.Postgres.Enabled {
		return sinks, func() {}, nil
	}

	pc := s.cfg.PostgresSettings()
	db, err := postgres.NewDB(pc)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Infof("Recording events to postgres: %s", pc)
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	sinks = append(sinks, events.NewPostgresSink(db))
	return sinks, func() { db.Close() }, nil
}

func (s *Server) httpRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.State()
	code := http.StatusOK
	status := "ok"
	if state != coordination.StateOperational {
		code = http.StatusServiceUnavailable
		status = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status, "state": state.String()}); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}
