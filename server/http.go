package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// FastHTTPServer is the listener boundary around the pipeline. It wraps
// each inbound request into a RequestContext, hands it to the chain, and
// lets fasthttp's bounded worker pool provide the per-request workers.
type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         *metrics.Pipeline
	pipe            *pipeline.Pipeline
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	endpoint        string
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	m *metrics.Pipeline,
	pipe *pipeline.Pipeline,
) (*FastHTTPServer, error) {
	cfg := config.GetConfig()
	if cfg == nil || cfg.Server == nil || cfg.Server.HTTP == nil {
		return nil, types.ErrConfigIsNil
	}

	serverCtx, cancel := context.WithCancel(ctx)

	httpConfig := cfg.Server.HTTP
	shutdownTimeout := time.Duration(httpConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         m,
		pipe:            pipe,
		httpConfig:      httpConfig,
		endpoint:        fmt.Sprintf("%s:%d", httpConfig.Host, httpConfig.Port),
		shutdownTimeout: shutdownTimeout,
	}

	server.state.Store(StateStopped)

	return server, nil
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if h.getState() == StateStarting {
			h.setState(StateRunning)
		}
	}()

	h.pipe.Setup()

	concurrency := h.httpConfig.Concurrency
	if concurrency <= 0 {
		concurrency = 256 * 1024
	}

	h.server = &fasthttp.Server{
		Handler:                      h.mainHandler(),
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		Concurrency:                  concurrency,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	go func() {
		listener, err := net.Listen("tcp", h.endpoint)
		if err != nil {
			h.logger.ErrorWithErrStack("HTTP listener failed", errors.WithStack(err))
			h.setState(StateStopped)
			return
		}
		h.listener = listener

		if err := h.server.Serve(listener); err != nil {
			h.logger.ErrorWithErrStack("HTTP server failed", errors.WithStack(err))
			h.setState(StateStopped)
		}
	}()

	h.logger.Info("HTTP server started",
		zap.String("address", h.endpoint))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server == nil {
			return nil
		}
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		h.logger.Warn("server stop timeout, some connections may not have drained", zap.Error(err))
	} else {
		h.logger.Info("HTTP server stopped gracefully")
	}

	return h.pipe.Stop()
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *FastHTTPServer) mainHandler() fasthttp.RequestHandler {
	cfg := h.config.GetConfig()

	var metricsHandler fasthttp.RequestHandler
	var metricsPath string
	if cfg.Metrics != nil && cfg.Metrics.Enabled && h.metrics.Registry() != nil {
		metricsPath = cfg.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		metricsHandler = fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}),
		)
	}

	return func(ctx *fasthttp.RequestCtx) {
		if metricsHandler != nil && utils.BytesToString(ctx.Path()) == metricsPath {
			metricsHandler(ctx)
			return
		}

		reqCtx := types.NewRequestContext(ctx, "http", h.endpoint)
		reqCtx.RequestID = h.requestID(ctx)

		h.pipe.Handle(reqCtx)

		h.metrics.ObserveRequest(fmt.Sprintf("%d", ctx.Response.StatusCode()))
	}
}

func (h *FastHTTPServer) requestID(ctx *fasthttp.RequestCtx) string {
	if id := ctx.Request.Header.Peek("X-Request-ID"); len(id) > 0 {
		return string(id)
	}
	return uuid.NewString()
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) bool {
	return h.state.CompareAndSwap(h.getState(), newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}
