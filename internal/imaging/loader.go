package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/disintegration/imaging"
)

// ErrIsDirectory is reported when an upload path names a directory.
var ErrIsDirectory = errors.New("is a directory")

// PathError describes a local file that cannot be uploaded. Field is the
// tool argument the path came from, Path is the resolved absolute path.
type PathError struct {
	Field string
	Path  string
	Err   error
}

func (e *PathError) Error() string {
	switch {
	case errors.Is(e.Err, fs.ErrNotExist):
		return fmt.Sprintf("%s not found: %s", e.Field, e.Path)
	case errors.Is(e.Err, ErrIsDirectory):
		return fmt.Sprintf("%s is a directory: %s", e.Field, e.Path)
	default:
		return fmt.Sprintf("%s unreadable: %s: %v", e.Field, e.Path, e.Err)
	}
}

func (e *PathError) Unwrap() error { return e.Err }

// Resolve turns path into an absolute path and checks that it names an
// existing regular file. It never touches the network.
func Resolve(field, path string) (string, os.FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, &PathError{Field: field, Path: path, Err: err}
	}

	stat, err := os.Stat(abs)
	if err != nil {
		return "", nil, &PathError{Field: field, Path: abs, Err: err}
	}
	if stat.IsDir() {
		return "", nil, &PathError{Field: field, Path: abs, Err: ErrIsDirectory}
	}
	return abs, stat, nil
}

// ImageInfo contains metadata about a local upload candidate.
type ImageInfo struct {
	// Path is the absolute file path.
	Path string `json:"path"`

	// Width and Height are zero when the file is not a decodable image.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Format is the decoder name ("png", "jpeg", "gif", "bmp", "tiff"),
	// or empty for files no registered decoder recognizes.
	Format string `json:"format,omitempty"`

	// FileSizeBytes is the size of the file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// IsImage reports whether a decoder recognized the file.
func (i *ImageInfo) IsImage() bool {
	return i.Format != ""
}

// ContentType is the MIME type used for the multipart part.
func (i *ImageInfo) ContentType() string {
	if i.IsImage() {
		return "image/" + i.Format
	}
	if ct := mime.TypeByExtension(filepath.Ext(i.Path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Options configures an Inspector.
type Options struct {
	// MaxEdge downscales images whose longest edge exceeds it. Zero disables.
	MaxEdge int

	// CacheEntries bounds the metadata cache. Defaults to 1024.
	CacheEntries int64
}

// Inspector prepares local files for upload. Metadata is cached by path,
// size and modification time so a file edited in place is inspected again.
//
// Inspector is safe for concurrent use.
type Inspector struct {
	maxEdge int
	cache   *ristretto.Cache[string, *ImageInfo]
}

// NewInspector creates an Inspector with its metadata cache.
func NewInspector(opts Options) (*Inspector, error) {
	entries := opts.CacheEntries
	if entries <= 0 {
		entries = 1024
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *ImageInfo]{
		NumCounters: entries * 10,
		MaxCost:     entries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	return &Inspector{
		maxEdge: opts.MaxEdge,
		cache:   cache,
	}, nil
}

// Close releases the metadata cache.
func (in *Inspector) Close() {
	in.cache.Close()
}

// Inspect returns metadata for an already resolved file.
func (in *Inspector) Inspect(abs string, stat os.FileInfo) (*ImageInfo, error) {
	key := fmt.Sprintf("%s|%d|%d", abs, stat.Size(), stat.ModTime().UnixNano())
	if info, ok := in.cache.Get(key); ok {
		return info, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info := &ImageInfo{
		Path:          abs,
		FileSizeBytes: stat.Size(),
	}

	// Unknown formats are still uploaded; the service decides what to do.
	if cfg, format, err := image.DecodeConfig(f); err == nil {
		info.Width = cfg.Width
		info.Height = cfg.Height
		info.Format = format
	}

	in.cache.Set(key, info, 1)
	return info, nil
}

// Upload is a file body ready to be streamed as a multipart part.
// Callers must Close it.
type Upload struct {
	Filename    string
	ContentType string
	Info        *ImageInfo

	// Resized is set when the body is a downscaled re-encoding.
	Resized bool

	body io.Reader
	file *os.File
}

func (u *Upload) Read(p []byte) (int, error) {
	return u.body.Read(p)
}

// Close releases the underlying file, if any.
func (u *Upload) Close() error {
	if u.file != nil {
		return u.file.Close()
	}
	return nil
}

// Open resolves path, inspects it and returns the body to upload.
//
// # Errors
//
//   - *PathError wrapping fs.ErrNotExist if the file does not exist
//   - *PathError wrapping ErrIsDirectory if the path names a directory
//   - decode or encode errors when a downscale was required and failed
func (in *Inspector) Open(field, path string) (*Upload, error) {
	abs, stat, err := Resolve(field, path)
	if err != nil {
		return nil, err
	}

	info, err := in.Inspect(abs, stat)
	if err != nil {
		return nil, &PathError{Field: field, Path: abs, Err: err}
	}

	if in.needsResize(info) {
		return in.resized(info)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, &PathError{Field: field, Path: abs, Err: err}
	}

	return &Upload{
		Filename:    filepath.Base(abs),
		ContentType: info.ContentType(),
		Info:        info,
		body:        f,
		file:        f,
	}, nil
}

func (in *Inspector) needsResize(info *ImageInfo) bool {
	if in.maxEdge <= 0 || !info.IsImage() {
		return false
	}
	return info.Width > in.maxEdge || info.Height > in.maxEdge
}

// resized downscales the image to fit within maxEdge. JPEG stays JPEG,
// everything else is re-encoded as PNG.
func (in *Inspector) resized(info *ImageInfo) (*Upload, error) {
	img, err := imaging.Open(info.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	fitted := imaging.Fit(img, in.maxEdge, in.maxEdge, imaging.Lanczos)

	format, ext, contentType := imaging.PNG, ".png", "image/png"
	if info.Format == "jpeg" {
		format, ext, contentType = imaging.JPEG, filepath.Ext(info.Path), "image/jpeg"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, format, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	name := filepath.Base(info.Path)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ext

	return &Upload{
		Filename:    name,
		ContentType: contentType,
		Info:        info,
		Resized:     true,
		body:        &buf,
	}, nil
}
