package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

// HTTPConfig controls the plain HTTP transport.
type HTTPConfig struct {
	Timeout     time.Duration
	MaxBodySize int
}

// HTTPFetcher retrieves pages over plain HTTP using a Colly collector. Each
// request carries a randomly selected profile and may be routed through the
// proxy rotator.
type HTTPFetcher struct {
	baseCollector *colly.Collector
	profiles      *ProfilePool
	proxies       *ProxyRotator
	logger        *zap.Logger
}

// NewHTTPFetcher constructs a configured Colly-based fetcher.
func NewHTTPFetcher(cfg HTTPConfig, profiles *ProfilePool, proxies *ProxyRotator, logger *zap.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	if cfg.MaxBodySize > 0 {
		base.MaxBodySize = cfg.MaxBodySize
	}
	base.WithTransport(&http.Transport{
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &HTTPFetcher{
		baseCollector: base,
		profiles:      profiles,
		proxies:       proxies,
		logger:        logger,
	}
}

type fetchResult struct {
	html string
	err  error
}

// Fetch retrieves a page, normalizes its character encoding, and returns the
// body as UTF-8. Non-2xx statuses surface as StatusError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, useProxy bool) (string, error) {
	collector := f.baseCollector.Clone()

	if useProxy && f.proxies != nil && f.proxies.HasProxies() {
		collector.SetProxyFunc(f.proxies.ProxyFunc)
	}

	profile := f.pickProfile()
	collector.OnRequest(func(r *colly.Request) {
		for key, values := range profile.Headers(rawURL) {
			if len(values) > 0 {
				r.Headers.Set(key, values[0])
			}
		}
	})

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		html, err := normalizeEncoding(r.Body, contentType)
		if err != nil {
			send(fetchResult{err: fmt.Errorf("normalize encoding: %w", err)})
			return
		}
		send(fetchResult{html: html})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			send(fetchResult{err: &StatusError{Code: r.StatusCode, URL: rawURL}})
			return
		}
		if err == nil {
			err = errors.New("unknown transport error")
		}
		send(fetchResult{err: fmt.Errorf("http fetch %s: %w", rawURL, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return "", fmt.Errorf("http visit %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return res.html, res.err
	default:
		return "", fmt.Errorf("http fetch %s produced no result", rawURL)
	}
}

func (f *HTTPFetcher) pickProfile() Profile {
	if f.profiles != nil {
		return f.profiles.Pick()
	}
	return Profile{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Accept:    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	}
}

// normalizeEncoding corrects mis-declared response encodings. Servers that
// declare nothing or claim ISO-8859-1 frequently serve GBK/UTF-8 content,
// so those cases get re-detected from the bytes and meta tags. Colly has
// already converted bodies with any other declared charset.
func normalizeEncoding(body []byte, contentType string) (string, error) {
	declared := declaredCharset(contentType)
	switch declared {
	case "":
		return sniffDecode(body)
	case "iso-8859-1", "latin1":
		// Colly's latin1-to-UTF-8 conversion maps bytes one-to-one, so the
		// original byte stream is recoverable for real detection.
		raw, err := charmap.ISO8859_1.NewEncoder().Bytes(body)
		if err != nil {
			raw = body
		}
		return sniffDecode(raw)
	default:
		return string(body), nil
	}
}

func sniffDecode(raw []byte) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(raw), "text/html")
	if err != nil {
		return string(raw), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}
