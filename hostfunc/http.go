package hostfunc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caffeineduck/newstate/transfer"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Request performs http_request(method, url [, body [, headers]]) and
// returns a table with status, body and headers.
func (h *HTTP) Request(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
	method := strings.ToUpper(optStringArg(args, 0))
	if method == "" {
		method = "GET"
	}
	return h.do(ctx, method, optStringArg(args, 1), optStringArg(args, 2), arg(args, 3))
}

func (h *HTTP) do(ctx context.Context, method, rawURL, bodyStr string, headers transfer.Value) ([]transfer.Value, error) {
	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	if rawURL == "" {
		return nil, fmt.Errorf("url required")
	}

	if len(rawURL) > h.cfg.MaxURLLength {
		return nil, fmt.Errorf("url exceeds max length")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https")
	}

	if len(h.cfg.AllowedHosts) == 0 {
		return nil, fmt.Errorf("http not enabled")
	}

	host := parsed.Hostname()
	if !h.isHostAllowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	var body io.Reader
	if bodyStr != "" {
		if int64(len(bodyStr)) > h.cfg.MaxBodySize {
			return nil, fmt.Errorf("request body exceeds max size")
		}
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if hdrs, ok := headers.(*transfer.Table); ok {
		hdrs.Range(func(k, v transfer.Value) bool {
			ks, kok := k.(transfer.String)
			vs, vok := v.(transfer.String)
			if kok && vok {
				req.Header.Set(string(ks), string(vs))
			}
			return true
		})
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	respHeaders := transfer.NewTable(len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			respHeaders.SetString(k, transfer.String(v[0]))
		}
	}

	out := transfer.NewTable(3)
	out.SetString("status", transfer.Number(resp.StatusCode))
	out.SetString("body", transfer.String(respBody))
	out.SetString("headers", respHeaders)
	return []transfer.Value{out}, nil
}

// Get performs http_get(url [, headers]).
func (h *HTTP) Get(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
	return h.do(ctx, "GET", optStringArg(args, 0), "", arg(args, 1))
}

// Register installs http_request and http_get into r.
func (h *HTTP) Register(r *Registry) {
	r.Register("http_request", h.Request)
	r.Register("http_get", h.Get)
}

// isHostAllowed matches IP literals by address and names by exact match
// or subdomain.
func (h *HTTP) isHostAllowed(host string) bool {
	ip := net.ParseIP(host)
	for _, allowed := range h.cfg.AllowedHosts {
		if ip != nil {
			if aip := net.ParseIP(allowed); aip != nil && aip.Equal(ip) {
				return true
			}
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func NewHTTPGet(cfg HTTPConfig) Func {
	return NewHTTP(cfg).Get
}
