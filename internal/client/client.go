package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/campro/campro-mcp/internal/imaging"
	"github.com/campro/campro-mcp/internal/logging"
)

// Remote paths on the analysis service.
const (
	PathParseImage    = "/img/claude"
	PathDetectObjects = "/detect_objects"
	PathChat          = "/chat"
)

// Multipart field names expected by the analysis service.
const (
	FieldImage  = "image"
	FieldFile   = "file"
	FieldPrompt = "prompt"
)

// RemoteError is returned when the analysis service answers with a
// non-2xx status.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s failed: %d %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	// BaseURL of the analysis service, e.g. http://127.0.0.1:8000.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Timeout bounds each call. Zero means no timeout.
	Timeout time.Duration

	// Inspector prepares local files. Required for file uploads.
	Inspector *imaging.Inspector
}

// Client talks to the analysis service. There are no retries: a failed call
// fails the tool call that issued it.
type Client struct {
	http      *resty.Client
	inspector *imaging.Inspector
	log       *log.Entry
}

// New creates a Client.
func New(cfg Config) *Client {
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		h.SetAuthToken(cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		h.SetTimeout(cfg.Timeout)
	}

	return &Client{
		http:      h,
		inspector: cfg.Inspector,
		log:       logging.For("client"),
	}
}

// PostJSON posts payload as JSON to path and returns the response body
// re-indented for display.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (string, error) {
	body, err := c.postJSON(ctx, path, payload)
	if err != nil {
		return "", err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return "", fmt.Errorf("invalid JSON response from %s: %w", path, err)
	}
	return out.String(), nil
}

// Chat sends a free-text message and returns the service's text reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	body, err := c.postJSON(ctx, PathChat, map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	return extractText(PathChat, body, "text")
}

// ParseImage uploads a local image with a prompt and returns the analysis
// text. A missing file fails before any request is made.
func (c *Client) ParseImage(ctx context.Context, prompt, imagePath string) (string, error) {
	body, err := c.uploadFile(ctx, PathParseImage, FieldImage, "imagePath", imagePath,
		map[string]string{FieldPrompt: prompt})
	if err != nil {
		return "", err
	}
	return extractText(PathParseImage, body, "text")
}

// DetectObjects uploads a local file for object detection. The service
// reports detections under "text" or, in older builds, "objects_detected".
func (c *Client) DetectObjects(ctx context.Context, filePath string) (string, error) {
	body, err := c.uploadFile(ctx, PathDetectObjects, FieldFile, "filePath", filePath, nil)
	if err != nil {
		return "", err
	}
	return extractText(PathDetectObjects, body, "text", "objects_detected")
}

// RelayUpload streams body to path as a single multipart file part and
// returns the upstream status and body untouched. Only transport failures
// are reported as errors.
func (c *Client) RelayUpload(ctx context.Context, path, field, filename, contentType string, body io.Reader) (int, []byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField(field, filename, contentType, body).
		Post(path)
	if err != nil {
		return 0, nil, fmt.Errorf("POST %s: %w", path, err)
	}

	c.log.WithFields(log.Fields{
		"path":   path,
		"status": resp.StatusCode(),
	}).Debug("relayed upload")

	return resp.StatusCode(), resp.Body(), nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(path)
	return c.check(path, resp, err)
}

func (c *Client) uploadFile(ctx context.Context, path, field, argName, filePath string, form map[string]string) ([]byte, error) {
	if c.inspector == nil {
		return nil, errors.New("client: no file inspector configured")
	}

	up, err := c.inspector.Open(argName, filePath)
	if err != nil {
		return nil, err
	}
	defer up.Close()

	c.log.WithFields(log.Fields{
		"path":    path,
		"file":    up.Info.Path,
		"bytes":   up.Info.FileSizeBytes,
		"resized": up.Resized,
	}).Debug("uploading file")

	req := c.http.R().
		SetContext(ctx).
		SetMultipartField(field, up.Filename, up.ContentType, up)
	if len(form) > 0 {
		req.SetFormData(form)
	}

	resp, err := req.Post(path)
	return c.check(path, resp, err)
}

func (c *Client) check(path string, resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		return nil, &RemoteError{
			Method:     "POST",
			Path:       path,
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
		}
	}
	return resp.Body(), nil
}

// extractText returns the first of fields present in body, or "" when none
// is. Non-string values are returned as raw JSON.
func extractText(path string, body []byte, fields ...string) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("invalid JSON response from %s", path)
	}
	for _, field := range fields {
		if v := gjson.GetBytes(body, field); v.Exists() && v.Type != gjson.Null {
			return v.String(), nil
		}
	}
	return "", nil
}
