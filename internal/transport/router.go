package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	prettylogger "github.com/rdbell/echo-pretty-logger"
	log "github.com/sirupsen/logrus"
	"github.com/ztrue/tracerr"

	"github.com/campro/campro-mcp/internal/client"
	"github.com/campro/campro-mcp/internal/logging"
	"github.com/campro/campro-mcp/internal/server"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "campro-mcp"

// Uploader relays a file upload to the analysis service.
type Uploader interface {
	RelayUpload(ctx context.Context, path, field, filename, contentType string, body io.Reader) (int, []byte, error)
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	// Sessions holds streamable HTTP sessions. Required.
	Sessions *SessionManager

	// NewServer builds a protocol server for each new session or stream.
	NewServer func() *server.Server

	// Uploader backs /detect_objects.
	Uploader Uploader

	// Production disables request logging and colored panic traces.
	Production bool

	// Version is reported by /health.
	Version string
}

// Router is the HTTP front of the service.
type Router struct {
	echo     *echo.Echo
	sessions *SessionManager
	sse      *LegacySSE
	cfg      RouterConfig
	now      func() time.Time
	log      *log.Entry
}

// NewRouter builds the echo instance and mounts every route.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		echo:     echo.New(),
		sessions: cfg.Sessions,
		sse:      NewLegacySSE("/sse", cfg.NewServer),
		cfg:      cfg,
		now:      time.Now,
		log:      logging.For("http"),
	}

	e := r.echo
	e.HideBanner = true
	e.HidePort = true

	if !cfg.Production {
		e.Use(prettylogger.Logger)
	}
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			if !cfg.Production {
				tracerr.PrintSourceColor(tracerr.Wrap(err))
			}
			r.log.WithError(err).WithField("path", c.Request().URL.Path).Error("panic recovered")
			return err
		},
	}))
	e.Use(middleware.RequestID())

	e.Any("/mcp", r.handleMCP)
	e.GET("/sse", echo.WrapHandler(http.HandlerFunc(r.sse.ServeStream)))
	e.POST("/sse", echo.WrapHandler(http.HandlerFunc(r.sse.ServeMessage)))
	e.GET("/health", r.handleHealth)
	e.POST("/receive_message", r.handleReceiveMessage)
	e.POST("/detect_objects", r.handleDetectObjects, middleware.BodyLimit("32M"))
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.String(http.StatusNotFound, "Not Found")
	})

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.echo.ServeHTTP(w, req)
}

// Start listens on addr until Shutdown is called.
func (r *Router) Start(addr string) error {
	r.log.WithField("addr", addr).Info("listening")
	if err := r.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes every session and stream, then stops the listener.
func (r *Router) Shutdown(ctx context.Context) error {
	r.sessions.CloseAll()
	r.sse.CloseAll()
	return r.echo.Shutdown(ctx)
}

func (r *Router) handleMCP(c echo.Context) error {
	req := c.Request()

	if id := req.Header.Get(HeaderSessionID); id != "" {
		t, ok := r.sessions.Lookup(id)
		if !ok {
			return c.String(http.StatusNotFound, "Session not found")
		}
		t.ServeHTTP(c.Response(), req)
		return nil
	}

	if req.Method != http.MethodPost {
		return c.String(http.StatusBadRequest, "Invalid request")
	}

	t := r.sessions.Create(r.cfg.NewServer())
	t.ServeHTTP(c.Response(), req)
	return nil
}

func (r *Router) timestamp() string {
	return r.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (r *Router) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": r.timestamp(),
		"service":   ServiceName,
		"version":   r.cfg.Version,
	})
}

type receivedMessage struct {
	Status          string          `json:"status"`
	Message         string          `json:"message"`
	ReceivedAt      string          `json:"received_at"`
	OriginalMessage json.RawMessage `json:"original_message"`
}

func (r *Router) handleReceiveMessage(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxBodySize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
	}
	if !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
	}

	r.log.WithField("bytes", len(body)).Info("message received")
	r.log.Debug(string(body))

	return c.JSON(http.StatusOK, receivedMessage{
		Status:          "success",
		Message:         "Message received successfully",
		ReceivedAt:      r.timestamp(),
		OriginalMessage: json.RawMessage(body),
	})
}

func (r *Router) handleDetectObjects(c echo.Context) error {
	fh, err := c.FormFile(client.FieldFile)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file field is required"})
	}

	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read uploaded file"})
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	entry := r.log.WithFields(log.Fields{
		"filename": fh.Filename,
		"bytes":    fh.Size,
	})

	status, body, err := r.cfg.Uploader.RelayUpload(c.Request().Context(),
		client.PathDetectObjects, client.FieldFile, fh.Filename, contentType, f)
	if err != nil {
		entry.WithError(err).Warn("detection relay failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	entry.WithField("status", status).Info("detection relayed")
	return c.Blob(status, echo.MIMEApplicationJSON, body)
}
