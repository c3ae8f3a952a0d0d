package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachegate/cachegate/internal/async"
)

func TestClient_DeliversBytesAsTheyArrive(t *testing.T) {
	q := async.NewQueue()
	e := NewEntry("GEThttp://x/", "http://x/", "GET")
	e.EnsureMemObject("GET")

	c := NewClient(q, e)

	var got CopyResult
	buf := make([]byte, 4)
	c.Copy(buf, func(r CopyResult) { got = r })
	q.Fire()
	// Nothing written yet: PENDING and offset==endOffset, waits silently.
	assert.Equal(t, CopyResult{}, got)

	e.Append([]byte("data"))
	q.Fire()
	require.Equal(t, 4, got.Length)
	assert.Equal(t, "data", string(buf[:got.Length]))
}

func TestClient_EOFAfterComplete(t *testing.T) {
	q := async.NewQueue()
	e := NewEntry("GEThttp://x/", "http://x/", "GET")
	e.EnsureMemObject("GET")
	e.ReplaceHTTPReply(&ReplyHeader{StatusSet: true, Status: 200, ContentLen: 2, HeaderSize: 0})
	e.Append([]byte("hi"))
	e.Complete()

	c := NewClient(q, e)
	buf := make([]byte, 10)

	var first CopyResult
	c.Copy(buf, func(r CopyResult) { first = r })
	q.Fire()
	require.NoError(t, first.Err)
	require.Equal(t, 2, first.Length)

	var second CopyResult
	c.Copy(buf, func(r CopyResult) { second = r })
	q.Fire()
	assert.Equal(t, CopyResult{}, second)
}

func TestClient_AbortedEntryErrors(t *testing.T) {
	q := async.NewQueue()
	e := NewEntry("GEThttp://x/", "http://x/", "GET")
	e.EnsureMemObject("GET")
	e.Abort()

	c := NewClient(q, e)
	var got CopyResult
	c.Copy(make([]byte, 4), func(r CopyResult) { got = r })
	q.Fire()
	assert.ErrorIs(t, got.Err, ErrObjectAborted)
}

func TestClient_ReentrantCopyRejected(t *testing.T) {
	q := async.NewQueue()
	e := NewEntry("GEThttp://x/", "http://x/", "GET")
	e.EnsureMemObject("GET")

	c := NewClient(q, e)
	c.Copy(make([]byte, 4), func(r CopyResult) {})

	var second CopyResult
	c.Copy(make([]byte, 4), func(r CopyResult) { second = r })
	assert.ErrorIs(t, second.Err, ErrReentrantCopy)
}

func TestMaybeQuickAbort_UnknownLengthPendingEntryAborted(t *testing.T) {
	e := NewEntry("GEThttp://x/", "http://x/", "GET")
	e.EnsureMemObject("GET")
	e.Append([]byte("short"))

	MaybeQuickAbort(e)
	assert.True(t, e.Flags.Aborted)
}

func TestMaybeQuickAbort_CompletedEntryUntouched(t *testing.T) {
	e := NewEntry("GEThttp://x/", "http://x/", "GET")
	e.EnsureMemObject("GET")
	e.Complete()

	MaybeQuickAbort(e)
	assert.False(t, e.Flags.Aborted)
}
