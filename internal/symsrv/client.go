// Package symsrv talks to the upstream symbol server that holds the source
// PDBs. The server speaks a minimal dialect: GET <name>/<guid><age>/file.ptr
// returns a text/plain body "PATH:<absolute-path>" naming a file reachable on
// the local filesystem.
package symsrv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/log"
)

// RequestTimeout bounds a single upstream attempt. Composed with the
// caller's context, whichever fires first.
const RequestTimeout = 30 * time.Second

// maxPointerBody caps how much of a file.ptr reply is read.
const maxPointerBody = 64 * 1024

// Client is a long-lived upstream client. One instance is shared by all
// requests so connections get reused.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New creates a client for the symbol server at base.
func New(base string) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse symbol server URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("symbol server URL %q must be http or https", base)
	}

	return &Client{
		base:   u,
		http:   &http.Client{},
		logger: log.WithComponent("symsrv"),
	}, nil
}

// PDBPath asks the upstream server where the PDB for key lives and returns a
// local filesystem path, or "" when the server has nothing. Timeouts,
// non-200 replies, unexpected media types, and malformed bodies all read as
// "nothing": the upstream is best-effort by design and the caller records
// the negative outcome.
func (c *Client) PDBPath(ctx context.Context, key artifact.Key) string {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	target := c.pointerURL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.logger.Warn("build upstream request", "url", target, "error", err)
		return ""
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("upstream request failed", "url", target, "error", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("upstream returned non-200", "url", target, "status", resp.StatusCode)
		return ""
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/plain" {
		c.logger.Debug("upstream returned unexpected media type", "url", target, "content_type", resp.Header.Get("Content-Type"))
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPointerBody))
	if err != nil {
		c.logger.Debug("read upstream body", "url", target, "error", err)
		return ""
	}

	const prefix = "PATH:"
	text := strings.TrimSpace(string(body))
	if !strings.HasPrefix(text, prefix) {
		c.logger.Debug("upstream body missing PATH prefix", "url", target)
		return ""
	}
	path := text[len(prefix):]
	if path == "" {
		return ""
	}
	return path
}

// pointerURL builds <base>/<escaped-name>/<guid><age-hex>/file.ptr. A base
// with a non-empty path keeps it as a prefix.
func (c *Client) pointerURL(key artifact.Key) string {
	suffix := url.PathEscape(key.Name) + "/" + key.IndexSegment() + "/file.ptr"

	u := *c.base
	switch {
	case u.Path == "" || u.Path == "/":
		u.Path = "/" + suffix
	case strings.HasSuffix(u.Path, "/"):
		u.Path += suffix
	default:
		u.Path += "/" + suffix
	}
	return u.String()
}
