package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitewatch/internal/archive"
)

// renderTransport is the headless-render side of the strategy.
type renderTransport interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// httpTransport is the plain HTTP side of the strategy.
type httpTransport interface {
	Fetch(ctx context.Context, rawURL string, useProxy bool) (string, error)
}

// Options adjust a single fetch.
type Options struct {
	// UseProxy routes the plain HTTP fallback through the proxy pool.
	UseProxy bool
	// SkipRender goes straight to plain HTTP. JSON API endpoints never
	// need a browser.
	SkipRender bool
}

// Strategy fetches a page with the renderer first and falls back to plain
// HTTP when rendering is unavailable or fails.
type Strategy struct {
	renderer renderTransport
	httpf    httpTransport
	archiver archive.BlobStore
	logger   *zap.Logger
}

// NewStrategy builds a fetch strategy. renderer may be nil when headless
// rendering is disabled.
func NewStrategy(renderer renderTransport, httpf httpTransport, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{renderer: renderer, httpf: httpf, logger: logger}
}

// SetArchive enables best-effort archiving of raw fetched bodies. An archive
// failure never fails the fetch.
func (s *Strategy) SetArchive(store archive.BlobStore) {
	s.archiver = store
}

// Fetch returns the page body as UTF-8 HTML (or raw text for API endpoints).
func (s *Strategy) Fetch(ctx context.Context, rawURL string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !opts.SkipRender && s.renderer != nil {
		html, err := s.renderer.Render(ctx, rawURL)
		if err == nil {
			s.archiveBody(ctx, rawURL, html)
			return html, nil
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		if !errors.Is(err, ErrRendererDisabled) {
			s.logger.Warn("render failed, falling back to http",
				zap.String("url", rawURL),
				zap.Error(err),
			)
		}
	}

	if s.httpf == nil {
		return "", fmt.Errorf("no http transport for %s", rawURL)
	}
	html, err := s.httpf.Fetch(ctx, rawURL, opts.UseProxy)
	if err != nil {
		return "", err
	}
	s.archiveBody(ctx, rawURL, html)
	return html, nil
}

func (s *Strategy) archiveBody(ctx context.Context, rawURL, body string) {
	if s.archiver == nil || body == "" {
		return
	}
	path := archive.ObjectPath(rawURL, time.Now())
	uri, err := s.archiver.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(body))
	if err != nil {
		s.logger.Warn("archive fetched body failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("archived fetched body",
		zap.String("url", rawURL),
		zap.String("uri", uri),
	)
}
