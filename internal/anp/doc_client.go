// ABOUTME: HTTP client for fetching and parsing ANP documents with DID-signed requests.
// ABOUTME: Extracts followable links from interfaces, informations, and schema fields.

package anp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anpkit/anp-bridge/internal/didauth"
)

// DefaultTimeout is the outbound request timeout when none is configured.
const DefaultTimeout = 30 * time.Second

// maxDocumentSize caps how much of an ANP document is read (10MB).
const maxDocumentSize = 10 << 20

// DocClient fetches ANP documents, signing each request with its identity.
// A DocClient is scoped to exactly one session's credential and is safe for
// concurrent use.
type DocClient struct {
	identity *didauth.Identity
	http     *http.Client
	logger   *slog.Logger
}

// NewDocClient creates a document client bound to the given identity.
func NewDocClient(identity *didauth.Identity, timeout time.Duration, logger *slog.Logger) *DocClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocClient{
		identity: identity,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Fetch retrieves the document at url and returns a FetchResult envelope.
// Transport and HTTP failures are reported inside the envelope, never as a
// Go error; the only hard error path is a context already cancelled.
func (c *DocClient) Fetch(ctx context.Context, docURL string) FetchResult {
	c.logger.Info("fetching ANP document", "url", docURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return FetchResult{OK: false, Error: &Error{Code: CodeRequestError, Message: err.Error()}}
	}

	headers, err := c.identity.Headers(docURL)
	if err != nil {
		return FetchResult{OK: false, Error: &Error{Code: CodeRequestError, Message: fmt.Sprintf("signing request: %v", err)}}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("document fetch failed", "url", docURL, "error", err)
		return FetchResult{OK: false, Error: &Error{Code: CodeRequestError, Message: err.Error()}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("document fetch returned error status", "url", docURL, "status", resp.StatusCode)
		return FetchResult{OK: false, Error: &Error{
			Code:    CodeHTTPError,
			Message: fmt.Sprintf("HTTP %d fetching %s", resp.StatusCode, docURL),
		}}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return FetchResult{OK: false, Error: &Error{Code: CodeRequestError, Message: err.Error()}}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result := FetchResult{OK: true, ContentType: contentType}

	if isTextual(contentType) {
		result.Text = string(body)
		result.Encoding = "utf-8"
	} else {
		result.Text = base64.StdEncoding.EncodeToString(body)
		result.Encoding = "base64"
	}

	if strings.Contains(strings.ToLower(contentType), "json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			c.logger.Warn("failed to parse JSON document", "url", docURL, "error", err)
		} else {
			result.JSON = parsed
			result.Links = extractLinks(parsed, docURL)
		}
	}

	c.logger.Info("document fetched",
		"url", docURL,
		"content_type", contentType,
		"bytes", len(body),
		"links", len(result.Links),
	)
	return result
}

// isTextual reports whether a content type should be returned as plain text
// rather than base64.
func isTextual(contentType string) bool {
	lowered := strings.ToLower(contentType)
	if strings.HasPrefix(lowered, "text/") {
		return true
	}
	for _, token := range []string{"json", "yaml", "xml"} {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// extractLinks pulls followable references out of a parsed ANP document.
func extractLinks(parsed any, baseURL string) []Link {
	doc, ok := parsed.(map[string]any)
	if !ok {
		return nil
	}

	var links []Link

	for _, entry := range asObjectList(doc["interfaces"]) {
		u, _ := entry["url"].(string)
		if u == "" {
			continue
		}
		protocol, _ := entry["protocol"].(string)
		if protocol == "" {
			protocol = "unknown"
		}
		title, _ := entry["title"].(string)
		links = append(links, Link{
			Rel:      "interface",
			URL:      resolveURL(u, baseURL),
			Protocol: protocol,
			Title:    title,
		})
	}

	for _, entry := range asObjectList(doc["informations"]) {
		u, _ := entry["url"].(string)
		if u == "" {
			continue
		}
		title, _ := entry["title"].(string)
		links = append(links, Link{Rel: "info", URL: resolveURL(u, baseURL), Title: title})
	}

	for _, field := range []string{"schema", "documentation", "examples"} {
		switch v := doc[field].(type) {
		case string:
			if strings.HasPrefix(v, "http") {
				links = append(links, Link{Rel: field, URL: resolveURL(v, baseURL)})
			}
		case map[string]any:
			if u, _ := v["url"].(string); u != "" {
				title, _ := v["title"].(string)
				links = append(links, Link{Rel: field, URL: resolveURL(u, baseURL), Title: title})
			}
		}
	}

	return links
}

func asObjectList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// resolveURL resolves a possibly relative URL against the document URL.
func resolveURL(ref, baseURL string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	resolved, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return resolved.String()
}
