// Package server wires the cache pipeline (internal/clientstream) into a
// running HTTP listener: configuration, rate limiting, and graceful
// startup/shutdown around the single clientstream.Driver every request is
// served through.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cachegate/cachegate/internal/clientstream"
	"github.com/cachegate/cachegate/internal/reply"
)

// ProxyHandler adapts inbound HTTP requests to the reply-context state
// machine and writes the resulting response back to the client, enforcing
// a per-request timeout so a stuck forward never wedges a connection.
type ProxyHandler struct {
	Logger  *slog.Logger
	Driver  *clientstream.Driver
	Timeout time.Duration // default: 30s
}

// ServeHTTP implements http.Handler.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := translateRequest(r)
	result := h.dispatchWithTimeout(r.Context(), req)
	writeResponse(w, result)
}

// dispatchWithTimeout hands req to the driver and waits for its callback,
// bounded by h.Timeout, the request's own context, or whichever fires
// first — a select over a result channel, a timer, and ctx.Done.
func (h *ProxyHandler) dispatchWithTimeout(ctx context.Context, req reply.Request) reply.Response {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan reply.Response, 1)
	h.Driver.Handle(req, func(resp reply.Response) {
		done <- resp
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return reply.Response{Status: http.StatusServiceUnavailable, LogType: reply.LogTCPMiss}
	case <-timer.C:
		if h.Logger != nil {
			h.Logger.Warn("request timed out awaiting driver response", "url", req.URL)
		}
		return reply.Response{Status: http.StatusGatewayTimeout, LogType: reply.LogTCPMiss}
	}
}

// translateRequest builds the reply-context request surface from an
// incoming *http.Request: only what identifyStoreObject/clientReplyContext
// actually consult, nothing else.
func translateRequest(r *http.Request) reply.Request {
	req := reply.Request{
		Method:  mapMethod(r.Method),
		URL:     requestURL(r),
		Headers: r.Header,
	}

	if v := r.Header.Get("If-None-Match"); v != "" {
		req.IfNoneMatch = []string{v}
	}
	if v := r.Header.Get("If-Match"); v != "" {
		req.IfMatch = []string{v}
	}
	if v := r.Header.Get("If-Modified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			req.IfModifiedSince = &t
		}
	}

	cc := r.Header.Get("Cache-Control")
	req.NoCache = containsDirective(cc, "no-cache")
	req.OnlyIfCached = containsDirective(cc, "only-if-cached")

	return req
}

func mapMethod(m string) reply.Method {
	switch m {
	case http.MethodGet:
		return reply.MethodGET
	case http.MethodHead:
		return reply.MethodHEAD
	case "PURGE":
		return reply.MethodPurge
	case http.MethodTrace:
		return reply.MethodTrace
	case http.MethodConnect:
		return reply.MethodConnect
	default:
		return reply.MethodOther
	}
}

// requestURL reconstructs the absolute URL a forward proxy sees on the
// request line; r.URL is already absolute-form for a proxied request, but
// guard the direct-to-origin case (r.URL.Host empty) too.
func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func containsDirective(cacheControl, directive string) bool {
	for _, part := range strings.Split(cacheControl, ",") {
		if strings.TrimSpace(part) == directive {
			return true
		}
	}
	return false
}

func writeResponse(w http.ResponseWriter, resp reply.Response) {
	hdr := w.Header()
	for k, vs := range resp.Headers {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
