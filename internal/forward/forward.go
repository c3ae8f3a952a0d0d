// Package forward implements the out-of-scope forwarding starter the reply
// context hands control to once it has decided a request needs an origin
// round trip: FwdState::Start's role, reduced to the single responsibility
// the reply context actually depends on — fetch the URL and write what
// comes back into the entry it was handed, asynchronously, with no return
// path of its own.
package forward

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cachegate/cachegate/internal/dns"
	"github.com/cachegate/cachegate/internal/reply"
	"github.com/cachegate/cachegate/internal/resolver"
	"github.com/cachegate/cachegate/internal/store"
)

// Config carries the forwarding starter's own tunables, independent of the
// reply context's.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64 // 0 = unlimited
}

// DefaultConfig mirrors Squid's conservative default connect/read timeouts.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, MaxBodyBytes: 0}
}

// Starter is the forwarding starter: one per listener, sharing an
// http.Client (and therefore its connection pool) across every request it
// forwards. When res is non-nil, origin hostnames are resolved through it
// rather than the platform resolver, so a DNS failure or override the
// internal resolver knows about (search path, custom nameservers) is
// honored on the forwarding path too.
type Starter struct {
	cfg      Config
	client   *http.Client
	resolver *resolver.Resolver
	log      *slog.Logger
}

// New constructs a Starter. log may be nil, in which case slog.Default is
// used. res may be nil, in which case the platform's own resolver handles
// every origin hostname.
func New(cfg Config, res *resolver.Resolver, log *slog.Logger) *Starter {
	if log == nil {
		log = slog.Default()
	}
	s := &Starter{cfg: cfg, resolver: res, log: log}
	transport := &http.Transport{DialContext: s.dialContext}
	s.client = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	return s
}

// dialContext resolves the host portion of addr through the internal
// resolver (when one is configured) before dialing, instead of letting
// net.Dialer fall back to the platform resolver.
func (s *Starter) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	if s.resolver == nil {
		return dialer.DialContext(ctx, network, addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) != nil {
		return dialer.DialContext(ctx, network, addr)
	}

	ip, err := s.resolveHost(ctx, host)
	if err != nil {
		return nil, err
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// resolveHost bridges the resolver's callback-driven ALookup into a
// synchronous call, respecting ctx cancellation the way a blocking
// net.Resolver lookup would.
func (s *Starter) resolveHost(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}
	ch := make(chan result, 1)

	s.resolver.ALookup(host, func(answers []dns.Record, err error) {
		if err != nil {
			ch <- result{err: err}
			return
		}
		for _, rec := range answers {
			if rec.Type != uint16(dns.TypeA) && rec.Type != uint16(dns.TypeAAAA) {
				continue
			}
			if raw, ok := rec.Data.([]byte); ok && len(raw) > 0 {
				ch <- result{ip: net.IP(raw).String()}
				return
			}
		}
		ch <- result{err: errors.New("forward: no address record returned")}
	})

	select {
	case r := <-ch:
		return r.ip, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Forward satisfies reply.Forwarder: it issues the request's method against
// its URL and streams the response into entry, exactly as FwdState::Start
// kicks off a server-side connection whose bytes arrive via
// storeEntry->write rather than through any return value here. Errors
// during the fetch itself mark the entry aborted rather than propagating,
// since this function has no caller to report them to.
func (s *Starter) Forward(req reply.Request, entry *store.Entry) {
	go s.run(req, entry)
}

func (s *Starter) run(req reply.Request, entry *store.Entry) {
	httpReq, err := http.NewRequest(string(req.Method), req.URL, nil)
	if err != nil {
		s.log.Warn("forward: building request failed", "url", req.URL, "err", err)
		entry.Abort()
		return
	}
	if req.IfModifiedSince != nil {
		httpReq.Header.Set("If-Modified-Since", req.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	for _, etag := range req.IfNoneMatch {
		httpReq.Header.Add("If-None-Match", etag)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.log.Warn("forward: upstream fetch failed", "url", req.URL, "err", err)
		entry.Abort()
		return
	}
	defer resp.Body.Close()

	header := &store.ReplyHeader{
		StatusSet:  true,
		Status:     resp.StatusCode,
		ContentLen: resp.ContentLength,
		HeaderSize: 0,
		ETag:       resp.Header.Get("ETag"),
		Vary:       resp.Header.Get("Vary"),
		Headers:    map[string][]string(resp.Header),
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		header.LastModified = lm
	}
	entry.ReplaceHTTPReply(header)

	var body io.Reader = resp.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = io.LimitReader(resp.Body, s.cfg.MaxBodyBytes)
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			entry.Append(chunk)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.log.Warn("forward: reading upstream body failed", "url", req.URL, "err", readErr)
			entry.Abort()
			return
		}
	}
	entry.Complete()
}
