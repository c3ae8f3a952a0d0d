package reply

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachegate/cachegate/internal/async"
	"github.com/cachegate/cachegate/internal/store"
)

// newTestEntry builds a complete, fresh entry ready to be served as a hit.
func newTestEntry(key string, status int, body string) *store.Entry {
	e := store.NewEntry(key, key, "GET")
	e.EnsureMemObject("GET")
	e.ReplaceHTTPReply(&store.ReplyHeader{
		StatusSet:  true,
		Status:     status,
		ContentLen: int64(len(body)),
		Headers:    map[string][]string{},
	})
	e.Append([]byte(body))
	e.Expires = time.Now().Add(time.Hour)
	e.Complete()
	return e
}

func newLookup(entries map[string]*store.Entry) StoreLookup {
	return func(key string) (*store.Entry, bool) {
		e, ok := entries[key]
		return e, ok
	}
}

func drive(q *async.Queue) {
	for i := 0; i < 50 && q.Fire(); i++ {
	}
}

func TestContext_PlainHitServesFromStore(t *testing.T) {
	q := async.NewQueue()
	entries := map[string]*store.Entry{"GET http://x/a": newTestEntry("http://x/a", 200, "hello")}

	var got Response
	ctx := NewContext(q, Config{}, Request{Method: MethodGET, URL: "http://x/a"}, newLookup(entries), nil, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, 200, got.Status)
	assert.Equal(t, LogMemHit, got.LogType)
}

func TestContext_MissWhenNoEntry(t *testing.T) {
	q := async.NewQueue()
	fwd := func(req Request, e *store.Entry) {
		e.ReplaceHTTPReply(&store.ReplyHeader{StatusSet: true, Status: 404, ContentLen: 0, Headers: map[string][]string{}})
		e.Complete()
	}

	var got Response
	ctx := NewContext(q, Config{}, Request{Method: MethodGET, URL: "http://x/missing"}, newLookup(nil), fwd, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, 404, got.Status)
}

func TestContext_OnlyIfCachedMissReturns504(t *testing.T) {
	q := async.NewQueue()
	var got Response
	ctx := NewContext(q, Config{}, Request{Method: MethodGET, URL: "http://x/missing", OnlyIfCached: true}, newLookup(nil), nil, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, 504, got.Status)
}

func TestContext_TraceWithZeroMaxForwardsNeverForwards(t *testing.T) {
	q := async.NewQueue()
	zero := 0
	forwarded := false
	ctx := NewContext(q, Config{}, Request{Method: MethodTrace, MaxForwards: &zero},
		newLookup(nil), func(req Request, e *store.Entry) { forwarded = true }, nil)

	var got Response
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, 200, got.Status)
	assert.False(t, forwarded)
}

func TestContext_PurgeDisabledReturns403AndChangesNothing(t *testing.T) {
	q := async.NewQueue()
	entries := map[string]*store.Entry{"GET http://x/a": newTestEntry("http://x/a", 200, "hello")}

	var got Response
	ctx := NewContext(q, Config{EnablePurge: false}, Request{Method: MethodPurge, URL: "http://x/a"}, newLookup(entries), nil, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, 403, got.Status)
	assert.False(t, entries["GET http://x/a"].Flags.Aborted)
}

func TestContext_PurgeIsIdempotent(t *testing.T) {
	q := async.NewQueue()
	entries := map[string]*store.Entry{"GET http://x/a": newTestEntry("http://x/a", 200, "hello")}

	var first, second Response
	ctx1 := NewContext(q, Config{EnablePurge: true}, Request{Method: MethodPurge, URL: "http://x/a"}, newLookup(entries), nil, nil)
	ctx1.Start(func(r Response) { first = r })
	drive(q)
	require.Equal(t, 200, first.Status)
	assert.True(t, entries["GET http://x/a"].Flags.Aborted)

	ctx2 := NewContext(q, Config{EnablePurge: true}, Request{Method: MethodPurge, URL: "http://x/a"}, newLookup(entries), nil, nil)
	ctx2.Start(func(r Response) { second = r })
	drive(q)
	assert.Equal(t, 404, second.Status)
}

func TestContext_ReplyBodyTooLargeReturns403RegardlessOfHit(t *testing.T) {
	q := async.NewQueue()
	entries := map[string]*store.Entry{"GET http://x/a": newTestEntry("http://x/a", 200, "0123456789")}

	var got Response
	ctx := NewContext(q, Config{ReplyBodyMaxSize: 4}, Request{Method: MethodGET, URL: "http://x/a"}, newLookup(entries), nil, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, 403, got.Status)
}

func TestContext_ConditionalIfNoneMatchReturns304(t *testing.T) {
	q := async.NewQueue()
	e := newTestEntry("http://x/a", 200, "hello")
	e.Mem.Reply.ETag = `"abc"`
	entries := map[string]*store.Entry{"GET http://x/a": e}

	var got Response
	ctx := NewContext(q, Config{}, Request{
		Method:      MethodGET,
		URL:         "http://x/a",
		IfNoneMatch: []string{`"abc"`},
	}, newLookup(entries), nil, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, 304, got.Status)
}

func TestContext_StaleEntryRevalidatesAndSends304Unmodified(t *testing.T) {
	q := async.NewQueue()
	e := newTestEntry("http://x/a", 200, "hello")
	e.Expires = time.Now().Add(-time.Hour) // stale
	e.Mem.Reply.LastModified = time.Now().Add(-2 * time.Hour)

	entries := map[string]*store.Entry{"GET http://x/a": e}
	fwd := func(req Request, fresh *store.Entry) {
		fresh.ReplaceHTTPReply(&store.ReplyHeader{StatusSet: true, Status: 304, ContentLen: 0, Headers: map[string][]string{}})
		fresh.Complete()
	}

	var got Response
	ctx := NewContext(q, Config{}, Request{Method: MethodGET, URL: "http://x/a"}, newLookup(entries), fwd, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, LogRefreshUnmodified, got.LogType)
}

func TestContext_StaleEntryRevalidatesAndSendsModified(t *testing.T) {
	q := async.NewQueue()
	e := newTestEntry("http://x/a", 200, "old")
	e.Expires = time.Now().Add(-time.Hour)
	e.Mem.Reply.LastModified = time.Now().Add(-2 * time.Hour)

	entries := map[string]*store.Entry{"GET http://x/a": e}
	fwd := func(req Request, fresh *store.Entry) {
		fresh.ReplaceHTTPReply(&store.ReplyHeader{StatusSet: true, Status: 200, ContentLen: 3, Headers: map[string][]string{}})
		fresh.Append([]byte("new"))
		fresh.Complete()
	}

	var got Response
	ctx := NewContext(q, Config{}, Request{Method: MethodGET, URL: "http://x/a"}, newLookup(entries), fwd, nil)
	ctx.Start(func(r Response) { got = r })
	drive(q)

	assert.Equal(t, LogRefreshModified, got.LogType)
	assert.True(t, e.Flags.Aborted, "old entry must be released once superseded")
}

func TestSaveState_RejectsDoubleSave(t *testing.T) {
	q := async.NewQueue()
	ctx := NewContext(q, Config{}, Request{Method: MethodGET, URL: "x"}, newLookup(nil), nil, nil)
	ctx.entry = store.NewEntry("x", "x", "GET")
	ctx.sc = store.NewClient(q, ctx.entry)

	require.NoError(t, ctx.saveState())
	assert.Error(t, ctx.saveState())

	savedEntry, savedSC := ctx.oldEntry, ctx.oldSC
	ctx.restoreState()
	assert.Equal(t, savedEntry, ctx.entry)
	assert.Equal(t, savedSC, ctx.sc)
	assert.Nil(t, ctx.oldEntry)
}
