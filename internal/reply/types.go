// Package reply implements the reply context state machine: the
// finite-state machine, parameterized by request method and by what the
// store has to say about the requested URL, that decides whether a request
// is served from cache, forwarded and cached, revalidated, or purged, and
// that rewrites the outgoing reply header before it reaches the client.
package reply

import (
	"net/http"
	"time"

	"github.com/cachegate/cachegate/internal/store"
)

// Method is the request method the state machine dispatches on.
type Method string

const (
	MethodGET     Method = "GET"
	MethodHEAD    Method = "HEAD"
	MethodPurge   Method = "PURGE"
	MethodTrace   Method = "TRACE"
	MethodConnect Method = "CONNECT"
	MethodOther   Method = "OTHER"
)

// LogType is the access-log classification assigned as the state machine
// resolves a request, following the client_side_reply log-tag vocabulary.
type LogType string

const (
	LogTCPMiss              LogType = "TCP_MISS"
	LogTCPHit               LogType = "TCP_HIT"
	LogTCPRedirect          LogType = "TCP_REDIRECT"
	LogTCPClientRefreshMiss LogType = "TCP_CLIENT_REFRESH_MISS"
	LogMemHit               LogType = "MEM_HIT"
	LogOfflineHit           LogType = "OFFLINE_HIT"
	LogIMSHit               LogType = "IMS_HIT"
	LogRefreshUnmodified    LogType = "REFRESH_UNMODIFIED"
	LogRefreshModified      LogType = "REFRESH_MODIFIED"
	LogRefreshFailOld       LogType = "REFRESH_FAIL_OLD"
)

// Request is the inbound request surface the state machine needs: just
// enough of an HTTP request to drive routing and conditional evaluation.
type Request struct {
	Method      Method
	URL         string
	Headers     http.Header
	MaxForwards *int

	IfMatch         []string
	IfNoneMatch     []string
	IfModifiedSince *time.Time

	NoCache      bool // client sent Cache-Control: no-cache
	OnlyIfCached bool
	Refresh      bool // set internally when a revalidation round trip is in flight

	VaryData string // the selecting-header signature computed for Vary matching
}

// Response is what the state machine hands back to the external driver:
// a status, a header set ready to send, and (for synthesized pages, or
// once fully buffered) a body.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	LogType LogType
}

// VaryResult is the outcome of comparing a stored entry's variance
// signature against the current request, mirroring varyEvaluateMatch.
type VaryResult int

const (
	VaryNone VaryResult = iota
	VaryMatch
	VaryOther
	VaryCancel
)

// Config carries the recognized reply-shaping options from the external
// configuration surface (spec §6): quick-abort thresholds live in
// internal/store, everything reply-shaping lives here.
type Config struct {
	EnablePurge         bool
	Offline             bool
	Via                 bool
	ReplyBodyMaxSize    int64 // 0 = unlimited
	ErrorPconns         bool
	ClientPconns        bool
	FailOnValidationErr bool
	HostName            string // used in X-Cache and Via
}

// StoreLookup resolves a cache key to an existing entry, or (nil, false)
// when nothing is cached for it — the external interface identifyStoreObject
// drives to get a "public key lookup against the store".
type StoreLookup func(key string) (*store.Entry, bool)

// AccessChecker is the external reply-access checklist: given the
// candidate response, decide whether it may be sent to the client.
type AccessChecker func(resp *Response) bool

// Forwarder is the out-of-scope forwarding starter: FwdState::Start.
// Forwarding writes bytes into entry asynchronously; it does not return
// them here.
type Forwarder func(req Request, entry *store.Entry)
