package reply

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// hopByHopHeaders are stripped from every outgoing reply regardless of hit
// or miss status, matching httpHdrMangle's hop-by-hop list.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// connectionAuthSchemes are WWW-Authenticate schemes that pin a reply to
// the specific connection it arrived on; such a reply can never be served
// from a shared cache entry regardless of its other cache-control headers.
var connectionAuthSchemes = []string{"NTLM", "Negotiate", "Kerberos"}

// buildReplyHeader rewrites resp's header set in place before it leaves
// the proxy: hop-by-hop stripping, Age/Date/Warning computation, the
// keep-alive decision, Via, and the X-Cache/X-Cache-Lookup headers (HIT or
// MISS).
func (c *Context) buildReplyHeader(resp Response) Response {
	if resp.Headers == nil {
		resp.Headers = map[string][]string{}
	}
	for _, h := range hopByHopHeaders {
		delete(resp.Headers, h)
	}

	isHit := resp.LogType == LogTCPHit || resp.LogType == LogMemHit ||
		resp.LogType == LogOfflineHit || resp.LogType == LogIMSHit

	if isHit {
		delete(resp.Headers, "Set-Cookie")
		if age := c.computeAge(); age >= 0 {
			resp.Headers["Age"] = []string{strconv.FormatInt(age, 10)}
			if age >= 86400 {
				resp.Headers["Warning"] = append(resp.Headers["Warning"],
					fmt.Sprintf("113 %s \"Heuristic Expiration\"", c.cfg.HostName))
			}
		}
		resp.Headers["X-Cache"] = []string{"HIT from " + c.hostName()}
	} else {
		resp.Headers["X-Cache"] = []string{"MISS from " + c.hostName()}
	}
	if len(resp.Headers["Date"]) == 0 {
		resp.Headers["Date"] = []string{time.Now().UTC().Format(http.TimeFormat)}
	}
	resp.Headers["X-Cache-Lookup"] = []string{lookupResult(resp.LogType)}

	if resp.LogType == LogRefreshFailOld {
		resp.Headers["Warning"] = append(resp.Headers["Warning"],
			"111 "+c.hostName()+" \"Revalidation Failed\"")
	}

	if hasConnectionAuth(resp.Headers) {
		resp.Headers["Proxy-support"] = []string{"Session-Based-Authentication"}
	}

	if !c.keepAlive(resp) {
		resp.Headers["Connection"] = []string{"close"}
	}

	if c.cfg.Via {
		resp.Headers["Via"] = append([]string{"1.1 " + c.hostName() + " (cachegate)"}, resp.Headers["Via"]...)
	}

	return resp
}

func (c *Context) hostName() string {
	if c.cfg.HostName != "" {
		return c.cfg.HostName
	}
	return "cachegate"
}

func lookupResult(lt LogType) string {
	switch lt {
	case LogTCPHit, LogMemHit, LogOfflineHit, LogIMSHit:
		return "HIT"
	default:
		return "MISS"
	}
}

// computeAge returns the entry's age in seconds, or -1 if unknown.
func (c *Context) computeAge() int64 {
	if c.entry == nil || c.entry.Timestamp.IsZero() {
		return -1
	}
	age := int64(time.Since(c.entry.Timestamp).Seconds())
	if age < 0 {
		return 0
	}
	return age
}

func hasConnectionAuth(h map[string][]string) bool {
	for _, v := range h["Www-Authenticate"] {
		for _, scheme := range connectionAuthSchemes {
			if len(v) >= len(scheme) && v[:len(scheme)] == scheme {
				return true
			}
		}
	}
	return false
}

// keepAlive applies the checklist deciding whether the connection this
// reply goes out on may be reused for a subsequent request. Any single
// failing row forces a close.
func (c *Context) keepAlive(resp Response) bool {
	if resp.Status >= 400 && !c.cfg.ErrorPconns {
		return false
	}
	if !c.cfg.ClientPconns {
		return false
	}
	if hasConnectionAuth(resp.Headers) {
		return false
	}
	if resp.Headers["Content-Length"] == nil && resp.Headers["Transfer-Encoding"] == nil && len(resp.Body) == 0 && resp.Status != 204 && resp.Status != 304 {
		// Unknown body length with no chunked framing available: the
		// connection can't be cleanly delimited, so it must close.
		return false
	}
	return true
}
