package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/cachegate/cachegate/internal/acl"
	"github.com/cachegate/cachegate/internal/async"
	"github.com/cachegate/cachegate/internal/clientstream"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/cachegate/cachegate/internal/filtering"
	"github.com/cachegate/cachegate/internal/forward"
	"github.com/cachegate/cachegate/internal/ratelimit"
	"github.com/cachegate/cachegate/internal/resolver"
	"github.com/cachegate/cachegate/internal/store"
)

// Runner orchestrates the proxy's startup, configuration, and shutdown.
type Runner struct {
	logger *slog.Logger

	driver   *clientstream.Driver
	acl      *acl.List
	res      *resolver.Resolver
	resQueue *async.Queue
	resStop  chan struct{}
	limiter  *ratelimit.Limiter
	maxConc  int
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Driver returns the runner's clientstream.Driver, constructed once Run (or
// RunWithContext) has started building the pipeline. Nil before that.
func (r *Runner) Driver() *clientstream.Driver {
	return r.driver
}

// PolicyEngine returns the shared filtering policy engine backing the ACL
// check, for the admin API to read and mutate at runtime.
func (r *Runner) PolicyEngine() *filtering.PolicyEngine {
	if r.acl == nil {
		return nil
	}
	return r.acl.Engine()
}

// SetPolicyEngine lets a caller hand Prepare an already-built policy
// engine (e.g. one it also gave to the admin API) instead of having
// Prepare build its own. Must be called before Prepare.
func (r *Runner) SetPolicyEngine(pe *filtering.PolicyEngine) {
	r.acl = acl.NewFromEngine(pe)
}

// Prepare builds the proxy pipeline — policy engine, resolver, driver,
// rate limiter — without starting the HTTP listener, so a caller can wire
// the resulting Driver/PolicyEngine into other components (the admin API)
// before traffic starts flowing.
//
// Build sequence:
//  1. Configure runtime (GOMAXPROCS based on workers setting)
//  2. Build the filtering policy engine and wrap it as a host denylist
//     (unless SetPolicyEngine already supplied one)
//  3. Optionally start the internal DNS resolver
//  4. Build the clientstream.Driver (call queue, keyed store, forwarder)
func (r *Runner) Prepare(cfg *config.Config) error {
	procs := r.configureRuntime(cfg)
	r.maxConc = r.calculateMaxConcurrency(cfg, procs)

	store.SetDefaultQuickAbort(quickAbortConfigFrom(cfg.Reply))

	if r.acl == nil {
		r.acl = acl.NewFromEngine(BuildPolicyEngine(cfg, r.logger))
	}

	if cfg.Resolver.Enabled {
		rescfg := resolverConfigFrom(cfg.Resolver)
		r.resQueue = async.NewQueue()
		res := resolver.New(rescfg, r.resQueue, r.logger)
		if err := res.Start(); err != nil {
			return err
		}
		r.res = res
		r.resStop = make(chan struct{})
		go r.pumpResolverQueue()
	}

	r.limiter = ratelimit.New(cfg.RateLimit)

	driverCfg := clientstream.Config{
		Reply:   cfg.Reply,
		Forward: forwardConfigFrom(cfg.Forward),
	}
	r.driver = clientstream.New(driverCfg, r.acl, r.res, r.logger)
	r.driver.Start()

	return nil
}

// RunWithContext starts the proxy listener and blocks until ctx is
// cancelled or the listener errors, then shuts down gracefully. Prepare
// is called first if the caller has not already done so.
func (r *Runner) RunWithContext(ctx context.Context, cfg *config.Config) error {
	if r.driver == nil {
		if err := r.Prepare(cfg); err != nil {
			return err
		}
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	r.logStartup(cfg, addr, r.maxConc)

	handler := &ProxyHandler{Logger: r.logger, Driver: r.driver, Timeout: 30 * time.Second}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r.rateLimited(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.shutdown(httpServer)
			return err
		}
	}

	return r.shutdown(httpServer)
}

func (r *Runner) shutdown(httpServer *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if r.driver != nil {
		_ = r.driver.Close()
	}
	if r.res != nil {
		_ = r.res.Close()
	}
	if r.resStop != nil {
		close(r.resStop)
	}
	if r.acl != nil {
		_ = r.acl.Close()
	}
	return nil
}

// pumpResolverQueue drains the resolver's own call queue, separate from the
// driver's, since the resolver's UDP read loop schedules callbacks onto it
// independently of any in-flight proxy request.
func (r *Runner) pumpResolverQueue() {
	for {
		select {
		case <-r.resStop:
			return
		default:
		}
		if !r.resQueue.Fire() {
			time.Sleep(2 * time.Millisecond)
		}
	}
}

// rateLimited wraps handler with per-source-IP/prefix/global admission
// control, rejecting over-limit requests before they ever reach the
// driver's call queue.
func (r *Runner) rateLimited(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limiter != nil {
			host, _, err := net.SplitHostPort(req.RemoteAddr)
			if err != nil {
				host = req.RemoteAddr
			}
			if !r.limiter.Allow(host) {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
		}
		handler.ServeHTTP(w, req)
	})
}

// configureRuntime sets GOMAXPROCS based on worker configuration. Workers
// can reduce but never increase parallelism beyond the default.
func (r *Runner) configureRuntime(cfg *config.Config) int {
	baseProcs := runtime.GOMAXPROCS(0)
	if baseProcs <= 0 {
		baseProcs = 1
	}
	desiredProcs := baseProcs

	if cfg.Server.Workers.Mode == config.WorkersFixed {
		w := cfg.Server.Workers.Value
		if w <= 0 {
			w = 1
		}
		if w < desiredProcs {
			desiredProcs = w
		}
	}

	prev := runtime.GOMAXPROCS(desiredProcs)
	actual := runtime.GOMAXPROCS(0)
	if r.logger != nil {
		r.logger.Info("runtime", "gomaxprocs", actual, "prev", prev, "base", baseProcs)
	}
	return actual
}

// calculateMaxConcurrency determines the maximum concurrent request handlers.
func (r *Runner) calculateMaxConcurrency(cfg *config.Config, procs int) int {
	maxConc := cfg.Server.MaxConcurrency
	if maxConc <= 0 {
		c := procs
		if c <= 0 {
			c = 1
		}
		maxConc = c * 256
		if maxConc > 2048 {
			maxConc = 2048
		}
	}
	return maxConc
}

func (r *Runner) logStartup(cfg *config.Config, addr string, maxConc int) {
	if r.logger != nil {
		r.logger.Info("proxy listening",
			"addr", addr,
			"enable_purge", cfg.Reply.EnablePurge,
			"resolver_enabled", cfg.Resolver.Enabled,
			"max_concurrency", maxConc,
		)
	}
}

// BuildPolicyEngine creates a PolicyEngine from the configuration, used for
// both the runtime host denylist and the admin API's view of filtering
// state.
func BuildPolicyEngine(cfg *config.Config, logger *slog.Logger) *filtering.PolicyEngine {
	blocklists := make([]filtering.BlocklistURL, 0, len(cfg.Filtering.Blocklists))
	for _, bl := range cfg.Filtering.Blocklists {
		format := filtering.FormatAuto
		switch bl.Format {
		case "adblock":
			format = filtering.FormatAdblock
		case "hosts":
			format = filtering.FormatHosts
		case "domains":
			format = filtering.FormatDomains
		}
		blocklists = append(blocklists, filtering.BlocklistURL{
			Name:   bl.Name,
			URL:    bl.URL,
			Format: format,
		})
	}

	refreshInterval := 24 * time.Hour
	if cfg.Filtering.RefreshInterval != "" {
		if d, err := time.ParseDuration(cfg.Filtering.RefreshInterval); err == nil {
			refreshInterval = d
		}
	}

	return filtering.NewPolicyEngine(filtering.PolicyEngineConfig{
		Logger:           logger,
		Enabled:          cfg.Filtering.Enabled,
		BlockAction:      filtering.ActionBlock,
		LogBlocked:       cfg.Filtering.LogBlocked,
		LogAllowed:       cfg.Filtering.LogAllowed,
		WhitelistDomains: cfg.Filtering.WhitelistDomains,
		BlacklistDomains: cfg.Filtering.BlacklistDomains,
		BlocklistURLs:    blocklists,
		RefreshInterval:  refreshInterval,
	})
}

func resolverConfigFrom(cfg config.ResolverConfig) resolver.Config {
	rc := resolver.DefaultConfig()
	if len(cfg.Nameservers) > 0 {
		rc.Nameservers = cfg.Nameservers
	}
	rc.IPv6Enabled = cfg.IPv6Enabled
	rc.IgnoreUnknownNameservers = cfg.IgnoreUnknownNameservers
	rc.SearchPathEnabled = cfg.SearchPathEnabled
	rc.SearchPath = cfg.SearchPath
	rc.V4First = cfg.V4First
	if cfg.NDots > 0 {
		rc.NDots = cfg.NDots
	}
	if cfg.PacketMax > 0 {
		rc.PacketMax = cfg.PacketMax
	}
	if d := config.ParseDuration(cfg.QueryTimeoutRaw, 0); d > 0 {
		rc.QueryTimeout = d
	}
	if d := config.ParseDuration(cfg.RetransmitIntervalRaw, 0); d > 0 {
		rc.RetransmitInterval = d
	}
	return rc
}

func forwardConfigFrom(cfg config.ForwardConfig) forward.Config {
	return forward.Config{
		Timeout:      config.ParseDuration(cfg.TimeoutRaw, 30*time.Second),
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
}

func quickAbortConfigFrom(cfg config.ReplyConfig) store.QuickAbortConfig {
	return store.QuickAbortConfig{
		Min: cfg.QuickAbortMin,
		Max: cfg.QuickAbortMax,
		Pct: cfg.QuickAbortPct,
	}
}
