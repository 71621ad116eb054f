// Package qr renders styled QR codes for export URLs.
package qr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
	"go.uber.org/zap"
)

const (
	// ShapeSquare and ShapeCircle select the module drawing style.
	ShapeSquare = "square"
	ShapeCircle = "circle"

	defaultBorderWidth = 20
	defaultLogoTimeout = 5 * time.Second
)

// Config is the configuration options for the QR renderer.
type Config struct {
	// Shape is the module shape, "square" (default) or "circle".
	Shape string

	// BorderWidth is the quiet-zone width in pixels (defaults to 20).
	BorderWidth int

	// Logo is an optional image embedded in the code center: a local file
	// path or an http(s) URL.
	Logo string

	// LogoTimeout bounds the logo fetch when Logo is a URL (defaults to 5s).
	LogoTimeout time.Duration

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Renderer produces PNG QR codes in the system temp directory.
type Renderer struct {
	config Config
	logger *zap.Logger
}

// NewRenderer creates a QR renderer.
func NewRenderer(config Config) *Renderer {
	if config.Shape == "" {
		config.Shape = ShapeSquare
	}
	if config.BorderWidth <= 0 {
		config.BorderWidth = defaultBorderWidth
	}
	if config.LogoTimeout <= 0 {
		config.LogoTimeout = defaultLogoTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Renderer{config: config, logger: config.Logger}
}

// Render encodes content into a styled QR PNG and returns the output path.
// The caller owns the file and removes it when done.
func (r *Renderer) Render(ctx context.Context, content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("content is required")
	}

	code, err := qrcode.New(content)
	if err != nil {
		return "", fmt.Errorf("encoding qr content: %w", err)
	}

	options := []standard.ImageOption{
		standard.WithBorderWidth(r.config.BorderWidth),
		standard.WithBuiltinImageEncoder(standard.PNG_FORMAT),
	}
	if r.config.Shape == ShapeCircle {
		options = append(options, standard.WithCircleShape())
	}

	if r.config.Logo != "" {
		logoPath, cleanup, err := r.logoFile(ctx)
		if err != nil {
			return "", err
		}
		defer cleanup()
		options = append(options, standard.WithLogoImageFilePNG(logoPath))
	}

	out := filepath.Join(os.TempDir(), fmt.Sprintf("reverie_qr_%d.png", time.Now().UnixNano()))
	writer, err := standard.New(out, options...)
	if err != nil {
		return "", fmt.Errorf("creating qr writer: %w", err)
	}

	if err := code.Save(writer); err != nil {
		return "", fmt.Errorf("rendering qr image: %w", err)
	}

	r.logger.Debug("rendered qr code", zap.String("path", out))
	return out, nil
}

// logoFile resolves the configured logo to a local file, fetching it over
// HTTP with a bounded timeout when it is a URL.
func (r *Renderer) logoFile(ctx context.Context) (string, func(), error) {
	logo := r.config.Logo
	if !strings.HasPrefix(logo, "http://") && !strings.HasPrefix(logo, "https://") {
		if _, err := os.Stat(logo); err != nil {
			return "", nil, fmt.Errorf("reading logo file: %w", err)
		}
		return logo, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.LogoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logo, nil)
	if err != nil {
		return "", nil, fmt.Errorf("building logo request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetching logo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("fetching logo: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "reverie_logo_*.png")
	if err != nil {
		return "", nil, fmt.Errorf("creating logo temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("saving logo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("saving logo: %w", err)
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
