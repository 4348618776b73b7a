package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/asset"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/bridge"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/config"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/models"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/sse"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Error kinds rendered at the boundary.
const (
	kindInvalidRequest  = "invalid_request_error"
	kindConfiguration   = "configuration_error"
	kindUnavailable     = "backend_unavailable"
	kindBackendProtocol = "backend_protocol_error"
	kindServer          = "server_error"
	kindNotFound        = "not_found"
)

type Server struct {
	cfg     config.Config
	bridge  *bridge.Bridge
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, br *bridge.Bridge) (*Server, error) {
	if br == nil {
		return nil, errors.New("bridge must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = bridgeErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:     cfg,
		bridge:  br,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	// No WriteTimeout: streamed answers stay open for as long as the
	// backend keeps producing events.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/api/health", s.handleAPIHealth)
	s.app.GET("/api/data", s.handleData)
	s.app.POST("/api/echo", s.handleEcho)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "API is running",
	})
}

// handleData keeps the legacy sample-data endpoint and its response shape.
func (s *Server) handleData(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":          1,
			"name":        "Sample Data",
			"description": "This is a sample data endpoint",
		},
	})
}

// handleEcho keeps the legacy debugging endpoint with its original response
// shape.
func (s *Server) handleEcho(c echo.Context) error {
	var payload any
	if err := decodeRequestBody(c, &payload); err != nil || payload == nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "No JSON data provided",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"echo":    payload,
	})
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req models.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()

	outcome, err := s.bridge.Chat(ctx, req)
	if err != nil {
		return toHTTPError(err)
	}

	if outcome.Stream != nil {
		return s.writeChunkStream(c, outcome.Stream)
	}
	return c.JSON(http.StatusOK, outcome.Completion)
}

// writeChunkStream forwards normalized chunks to the client as they arrive
// and always finishes the wire stream with the [DONE] terminator. A client
// disconnect stops the pull loop so the backend connection is released
// instead of being drained into a void.
func (s *Server) writeChunkStream(c echo.Context, stream *sse.Transcoder) error {
	defer stream.Close()

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Kind:    kindServer,
			Message: "server does not support streaming responses",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("transcoder failed", "error", err)
			return nil
		}
		if ctx.Err() != nil {
			slog.Info("client disconnected mid-stream")
			return nil
		}
		if err := writeSSEData(writer, chunk); err != nil {
			slog.Warn("client write failed mid-stream", "error", err)
			return nil
		}
		flusher.Flush()
	}

	if _, err := fmt.Fprint(writer, "data: [DONE]\n\n"); err != nil {
		slog.Warn("failed to write stream terminator", "error", err)
		return nil
	}
	flusher.Flush()
	return nil
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Kind:    kindInvalidRequest,
				Message: "request body is required",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Kind:    kindInvalidRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Kind:    kindInvalidRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Kind    string
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, kind, message string) error {
	var payload errorBody
	payload.Error.Kind = kind
	payload.Error.Message = message
	return c.JSON(status, payload)
}

func bridgeErrorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Kind, reqErr.Message)
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		_ = writeError(c, echoErr.Code, kindForStatus(echoErr.Code), fmt.Sprintf("%v", echoErr.Message))
		return
	}

	_ = writeError(c, http.StatusInternalServerError, kindServer, "internal server error")
}

func kindForStatus(status int) string {
	switch {
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return kindNotFound
	case status >= 400 && status < 500:
		return kindInvalidRequest
	default:
		return kindServer
	}
}

// toHTTPError maps internal error kinds to the boundary representation.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var clientErr *bridge.ClientRequestError
	if errors.As(err, &clientErr) {
		return requestError{
			Status:  http.StatusBadRequest,
			Kind:    kindInvalidRequest,
			Message: clientErr.Message,
		}
	}

	if errors.Is(err, asset.ErrNoAssetID) {
		return requestError{
			Status:  http.StatusFailedDependency,
			Kind:    kindConfiguration,
			Message: err.Error(),
		}
	}

	var unavailableErr *backend.UnavailableError
	if errors.As(err, &unavailableErr) {
		return requestError{
			Status:  http.StatusBadGateway,
			Kind:    kindUnavailable,
			Message: unavailableErr.Error(),
		}
	}

	var protocolErr *backend.ProtocolError
	if errors.As(err, &protocolErr) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Kind:    kindBackendProtocol,
			Message: protocolErr.Error(),
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Kind:    kindServer,
		Message: "internal server error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("vss-bridge ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/health")
	fmt.Println("  GET  /api/data")
	fmt.Println("  POST /api/echo")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"what is in this document?\"}],\"stream\":true}'\n\n", host, port)
}
