package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/detailseg/pkg/types"
)

// DefaultUserAgent is sent with every image download; product CDNs tend to
// reject requests without a browser agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Processor handles image acquisition, normalisation and encoding
type Processor struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	maxBytes  int64
}

// Option configures a Processor
type Option func(*Processor)

// WithTimeout bounds a single download.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) { p.timeout = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Processor) { p.userAgent = ua }
}

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Processor) { p.client = c }
}

// WithMaxBytes caps the size of a downloaded image.
func WithMaxBytes(n int64) Option {
	return func(p *Processor) { p.maxBytes = n }
}

// NewProcessor creates a new image processor
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		client:    &http.Client{},
		timeout:   20 * time.Second,
		userAgent: DefaultUserAgent,
		maxBytes:  64 << 20,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NormalizeURL turns protocol-relative URLs into https URLs and validates
// the scheme.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %q (only http and https are supported)", parsedURL.Scheme)
	}
	return parsedURL.String(), nil
}

// LoadImageFromURL downloads and decodes an image. Every failure, timeouts
// included, wraps types.ErrAcquisition and names the URL.
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	target, err := NormalizeURL(imageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAcquisition, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to create request: %v", types.ErrAcquisition, target, err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrAcquisition, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: HTTP %d", types.ErrAcquisition, target, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return nil, fmt.Errorf("%w: %s: not an image (Content-Type: %s)", types.ErrAcquisition, target, contentType)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read body: %v", types.ErrAcquisition, target, err)
	}

	img, err := DecodeBytes(imageData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", types.ErrAcquisition, target, err)
	}
	return img, nil
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	img, err := DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Resolve normalises any Input variant into a raster.
func (p *Processor) Resolve(ctx context.Context, in types.Input) (image.Image, error) {
	switch in.Kind {
	case types.InputImage:
		if in.Image == nil {
			return nil, types.ErrEmptyImage
		}
		return in.Image, nil
	case types.InputURL:
		return p.LoadImageFromURL(ctx, in.URL)
	case types.InputPath:
		return p.LoadImage(in.Path)
	default:
		return nil, fmt.Errorf("unknown input kind %d", in.Kind)
	}
}

// DecodeBytes decodes image data, trying the registered decoders before the
// cgo WebP decoder.
func DecodeBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, types.ErrDecode
}

// Flatten returns an opaque RGB copy of img. Transparent areas are composited
// on white; palette and grayscale inputs are expanded.
func Flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// FitLongestEdge scales img down so that its longest edge is at most
// maxEdge. Smaller images and maxEdge <= 0 return img unchanged.
func FitLongestEdge(img image.Image, maxEdge int) image.Image {
	if maxEdge <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxEdge && b.Dy() <= maxEdge {
		return img
	}
	return imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
}

// Extension maps a configured format to the file extension used on disk.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg", "":
		return "jpg"
	default:
		return strings.ToLower(format)
	}
}

// SaveImage flattens img and writes it in the given format. The file is
// written to a temporary name first and renamed, so readers never observe a
// partially written image.
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	flat := Flatten(img)

	var buf bytes.Buffer
	if err := Encode(&buf, flat, format, quality, lossless); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Encode writes img to w in the given format
func Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	case "jpg", "jpeg", "":
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, format)
	}
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	img = FitLongestEdge(Flatten(img), maxDim)

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
