package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// probeTimeout bounds the single diagnostic request.
const probeTimeout = 10 * time.Second

// authProbe asks the profile endpoint whether the caller's credentials are
// accepted. It fires at most once per client.
type authProbe struct {
	client *http.Client
	url    string
	token  string
	fired  bool
}

// probeResult is posted back to the event loop when the probe finishes.
type probeResult struct {
	status int
	err    error
}

// authRequired reports whether result means the caller is not authenticated.
// Only 401, 403 and 404 carry that meaning; anything else is transient.
func (r probeResult) authRequired() bool {
	if r.err != nil {
		return false
	}
	switch r.status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// check issues the request. It never retries.
func (p *authProbe) check(ctx context.Context) probeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return probeResult{err: fmt.Errorf("create probe request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return probeResult{err: fmt.Errorf("probe request: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return probeResult{status: resp.StatusCode}
}

// profileURL resolves the profile path against the server base URL.
func profileURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), chatPath) + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

// authFailureMarkers are substrings of an error frame's message that mean the
// server rejected the credentials.
var authFailureMarkers = []string{
	"unauthorized",
	"not authenticated",
	"forbidden",
	"401",
	"403",
}

// isAuthFailure classifies an inline server error message.
func isAuthFailure(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range authFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
