package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caffeineduck/newstate/executor"
	"github.com/caffeineduck/newstate/internal/config"
	"github.com/caffeineduck/newstate/internal/metrics"
	"github.com/caffeineduck/newstate/sandbox"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for code execution",
	Long: `Start an HTTP server that provides REST endpoints for code execution.

Endpoints:
  POST   /execute              Load and call code once (stateless)
  POST   /sessions             Create session, returns {"session_id":"..."}
  POST   /sessions/{id}/load   Load code as the session's entry point
  POST   /sessions/{id}/run    Call the entry point with args
  POST   /sessions/{id}/do     Load and call code in the session
  POST   /sessions/{id}/gc     Control the session's collector
  DELETE /sessions/{id}        Close session
  GET    /health               Health check
  GET    /metrics              Prometheus metrics

Bodies are JSON, or CBOR with Content-Type: application/cbor. Responses
follow the Accept header.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config)")
	serveCmd.Flags().Duration("session-ttl", 0, "Close sessions idle for this long")
	serveCmd.Flags().Int("max-sessions", 0, "Maximum open sessions")
	serveCmd.Flags().Duration("timeout", executor.DefaultTimeout, "Default execution timeout")
	serveCmd.Flags().Bool("kv", false, "Enable key-value store for every request")
	serveCmd.Flags().StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	serveCmd.Flags().Bool("no-rate-limit", false, "Disable per-client rate limiting")

	rootCmd.AddCommand(serveCmd)
}

type server struct {
	exec     *executor.Executor
	sessions *sessionManager
	cfg      *config.Config
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func newServer(c *config.Config, log *zap.Logger) (*server, error) {
	m := metrics.New()
	exec, err := executor.New(nil,
		executor.WithSandboxOptions(sandboxOptions(c.Sandbox)...),
		executor.WithLogger(log),
		executor.WithRecorder(m),
	)
	if err != nil {
		return nil, err
	}
	return &server{
		exec:     exec,
		sessions: newSessionManager(c.Server.SessionTTL, c.Server.MaxSessions, log),
		cfg:      c,
		log:      log,
		metrics:  m,
	}, nil
}

func (s *server) close() {
	s.sessions.shutdown()
	s.exec.Close()
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log), metrics.Middleware(s.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/")
	if s.cfg.RateLimit.Enabled {
		api.Use(rateLimit(s.cfg.RateLimit, s.metrics))
	}
	api.POST("/execute", s.execute)
	api.POST("/sessions", s.createSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/load", s.load)
	api.POST("/sessions/:id/run", s.run)
	api.POST("/sessions/:id/do", s.do)
	api.POST("/sessions/:id/gc", s.collect)
	return r
}

func (s *server) timeout(req request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return s.cfg.Exec.Timeout
}

func (s *server) runOptions(req request) []executor.Option {
	opts := []executor.Option{executor.WithTimeout(s.timeout(req))}
	if req.KV || s.cfg.Exec.KV {
		opts = append(opts,
			executor.WithKV(),
			executor.WithKVMaxKeySize(s.cfg.Exec.KVMaxKeySize),
			executor.WithKVMaxValueSize(s.cfg.Exec.KVMaxValueSize),
			executor.WithKVMaxEntries(s.cfg.Exec.KVMaxEntries),
		)
	}
	if len(s.cfg.Exec.AllowedHosts) > 0 {
		opts = append(opts, executor.WithAllowedHosts(s.cfg.Exec.AllowedHosts))
		if s.cfg.Exec.HTTPTimeout > 0 {
			opts = append(opts, executor.WithHTTPTimeout(s.cfg.Exec.HTTPTimeout))
		}
	}
	return opts
}

func (s *server) sessionOptions(req request) []executor.SessionOption {
	opts := []executor.SessionOption{executor.WithSessionTimeout(s.timeout(req))}
	if req.KV || s.cfg.Exec.KV {
		opts = append(opts, executor.WithSessionKV(kvConfigFrom(s.cfg.Exec)))
	}
	if len(s.cfg.Exec.AllowedHosts) > 0 {
		opts = append(opts, executor.WithSessionAllowedHosts(s.cfg.Exec.AllowedHosts))
		if s.cfg.Exec.HTTPTimeout > 0 {
			opts = append(opts, executor.WithSessionHTTPTimeout(s.cfg.Exec.HTTPTimeout))
		}
	}
	return opts
}

// bind decodes the body, writing 400 on failure.
func (s *server) bind(c *gin.Context) (request, bool) {
	req, err := decodeRequest(c, s.cfg.Server.MaxBodyBytes)
	if err != nil {
		renderError(c, http.StatusBadRequest, err)
		return req, false
	}
	return req, true
}

// session looks up the :id session, writing 404 when it is unknown.
func (s *server) session(c *gin.Context) (*executor.Session, bool) {
	session, ok := s.sessions.get(c.Param("id"))
	if !ok {
		renderError(c, http.StatusNotFound, errors.New("session not found"))
	}
	return session, ok
}

// callContext bounds a session call by the request's own timeout; the
// session applies its configured timeout on top.
func callContext(c *gin.Context, req request) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(c.Request.Context(), req.Timeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (s *server) execute(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	if req.Code == "" {
		renderError(c, http.StatusBadRequest, errors.New("code required"))
		return
	}

	result := s.exec.Run(c.Request.Context(), req.Code, req.Args, s.runOptions(req)...)
	renderResult(c, result)
}

func (s *server) createSession(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}

	timer := metrics.NewTimer(s.metrics, "create")
	id, err := s.sessions.create(s.exec, s.sessionOptions(req)...)
	switch {
	case errors.Is(err, errTooManySessions), errors.Is(err, executor.ErrExecutorClosed):
		timer.Stop("unavailable")
		renderError(c, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		timer.Stop("error")
		s.log.Error("create session", zap.Error(err))
		renderError(c, http.StatusInternalServerError, fmt.Errorf("failed to create session: %w", err))
		return
	}
	timer.Stop("ok")

	if req.Code != "" {
		session, _ := s.sessions.get(id)
		if err := session.Load(req.Code); err != nil {
			s.sessions.close(id)
			render(c, http.StatusOK, response{Status: sandbox.StatusOf(err), Error: err.Error()})
			return
		}
	}
	render(c, http.StatusCreated, response{SessionID: id})
}

func (s *server) deleteSession(c *gin.Context) {
	if !s.sessions.close(c.Param("id")) {
		renderError(c, http.StatusNotFound, errors.New("session not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) load(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	if req.Code == "" {
		renderError(c, http.StatusBadRequest, errors.New("code required"))
		return
	}
	session, ok := s.session(c)
	if !ok {
		return
	}

	start := time.Now()
	err := session.Load(req.Code)
	renderResult(c, executor.Result{Duration: time.Since(start), Error: err})
}

func (s *server) run(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	session, ok := s.session(c)
	if !ok {
		return
	}

	ctx, cancel := callContext(c, req)
	defer cancel()
	renderResult(c, session.Run(ctx, req.Args...))
}

func (s *server) do(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	if req.Code == "" {
		renderError(c, http.StatusBadRequest, errors.New("code required"))
		return
	}
	session, ok := s.session(c)
	if !ok {
		return
	}

	ctx, cancel := callContext(c, req)
	defer cancel()
	renderResult(c, session.Do(ctx, req.Code, req.Args...))
}

func (s *server) collect(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	what, known := sandbox.ParseGCOption(strings.ToLower(req.Option))
	if !known {
		renderError(c, http.StatusBadRequest, fmt.Errorf("%w: %q", sandbox.ErrUnknownGCOption, req.Option))
		return
	}
	session, ok := s.session(c)
	if !ok {
		return
	}

	n, err := session.Collect(what, req.Params...)
	if err != nil {
		renderResult(c, executor.Result{Error: err})
		return
	}
	render(c, http.StatusOK, response{Value: &n})
}

// requestLogger logs each request once it has been served.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("session-ttl") {
		cfg.Server.SessionTTL, _ = cmd.Flags().GetDuration("session-ttl")
	}
	if cmd.Flags().Changed("max-sessions") {
		cfg.Server.MaxSessions, _ = cmd.Flags().GetInt("max-sessions")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Exec.Timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if cmd.Flags().Changed("kv") {
		cfg.Exec.KV, _ = cmd.Flags().GetBool("kv")
	}
	if cmd.Flags().Changed("allow-host") {
		cfg.Exec.AllowedHosts, _ = cmd.Flags().GetStringSlice("allow-host")
	}
	if noLimit, _ := cmd.Flags().GetBool("no-rate-limit"); noLimit {
		cfg.RateLimit.Enabled = false
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer srv.close()
	go srv.sessions.run()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("newstate server listening", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
