package clientstream

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachegate/cachegate/internal/acl"
	"github.com/cachegate/cachegate/internal/filtering"
	"github.com/cachegate/cachegate/internal/reply"
)

func handleSync(t *testing.T, d *Driver, req reply.Request) reply.Response {
	t.Helper()
	ch := make(chan reply.Response, 1)
	d.Handle(req, func(r reply.Response) { ch <- r })
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered in time")
		return reply.Response{}
	}
}

func TestDriver_MissThenHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=3600")
		w.WriteHeader(200)
		w.Write([]byte("origin body"))
	}))
	defer srv.Close()

	d := New(DefaultConfig(), nil, nil, nil)
	d.Start()
	defer d.Close()

	first := handleSync(t, d, reply.Request{Method: reply.MethodGET, URL: srv.URL})
	require.Equal(t, 200, first.Status)
	assert.Equal(t, reply.LogTCPMiss, first.LogType)

	second := handleSync(t, d, reply.Request{Method: reply.MethodGET, URL: srv.URL})
	require.Equal(t, 200, second.Status)
	assert.Equal(t, []byte("origin body"), second.Body)
}

func TestDriver_DenylistedHostBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("should never be seen"))
	}))
	defer srv.Close()

	deny := acl.New(filtering.PolicyEngineConfig{
		Enabled:          true,
		BlockAction:      filtering.ActionBlock,
		BlacklistDomains: []string{hostOf(srv.URL)},
	})

	d := New(DefaultConfig(), deny, nil, nil)
	d.Start()
	defer d.Close()

	got := handleSync(t, d, reply.Request{Method: reply.MethodGET, URL: srv.URL})
	assert.Equal(t, 403, got.Status)
}

func hostOf(rawURL string) string {
	u, err := http.NewRequest("GET", rawURL, nil)
	if err != nil {
		return ""
	}
	return u.URL.Hostname()
}

func TestDriver_PurgeRemovesCachedEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("cached"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Reply.EnablePurge = true
	d := New(cfg, nil, nil, nil)
	d.Start()
	defer d.Close()

	miss := handleSync(t, d, reply.Request{Method: reply.MethodGET, URL: srv.URL})
	require.Equal(t, 200, miss.Status)

	purge := handleSync(t, d, reply.Request{Method: reply.MethodPurge, URL: srv.URL})
	assert.Equal(t, 200, purge.Status)

	again := handleSync(t, d, reply.Request{Method: reply.MethodPurge, URL: srv.URL})
	assert.Equal(t, 404, again.Status)
}
