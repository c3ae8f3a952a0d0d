package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cachegate/cachegate/internal/pool"
)

// diskBufPool backs every disk read with a reusable 32KiB buffer instead of
// allocating one per scheduleDiskRead call.
var diskBufPool = pool.New(func() []byte { return make([]byte, 32*1024) })

// swapWriter streams a producer's bytes to a swap file on disk, writing the
// metadata envelope first.
type swapWriter struct {
	mu   sync.Mutex
	file *os.File
	size int64
}

// SwapDir is the root directory swap files are created under. Tests set
// this to a t.TempDir(); production wires it from the cache directory
// configuration.
var SwapDir = os.TempDir()

func swapPath(id string) string {
	return filepath.Join(SwapDir, "cachegate-"+id+".swap")
}

// beginSwapOut creates the swap file for e, writes env as its header, and
// marks the entry SwapWriting. Matches storeSwapOutStart.
func (e *Entry) beginSwapOut(env Envelope) error {
	id := e.Key
	f, err := os.Create(swapPath(id))
	if err != nil {
		return fmt.Errorf("store: create swap file: %w", err)
	}
	hdr := EncodeEnvelope(env)
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return fmt.Errorf("store: write swap header: %w", err)
	}

	w := &swapWriter{file: f, size: int64(len(hdr))}

	e.mu.Lock()
	e.SwapFileID = id
	e.SwapStatus = SwapWriting
	if e.Mem != nil {
		e.Mem.SwapHdrSz = int64(len(hdr))
		e.Mem.swapOut = w
	}
	e.mu.Unlock()
	return nil
}

// swapOutWrite appends data to the swap file, if one is open.
func (e *Entry) swapOutWrite(data []byte) error {
	e.mu.Lock()
	var w *swapWriter
	if e.Mem != nil {
		w = e.Mem.swapOut
	}
	e.mu.Unlock()
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.file.Write(data)
	w.size += int64(n)
	return err
}

// finishSwapOut closes the swap file and marks the entry SwapDone.
func (e *Entry) finishSwapOut() error {
	e.mu.Lock()
	var w *swapWriter
	if e.Mem != nil {
		w = e.Mem.swapOut
	}
	e.mu.Unlock()
	if w == nil {
		return nil
	}
	w.mu.Lock()
	size := w.size
	err := w.file.Close()
	w.mu.Unlock()

	e.mu.Lock()
	e.SwapStatus = SwapDone
	e.SwapFileSize = size
	e.mu.Unlock()
	return err
}

// abortSwapOut removes a partially written swap file, matching the disk
// half of storeSwapOutFileClosed's error branch.
func (e *Entry) abortSwapOut() {
	e.mu.Lock()
	id := e.SwapFileID
	var w *swapWriter
	if e.Mem != nil {
		w = e.Mem.swapOut
	}
	e.SwapStatus = SwapNone
	e.mu.Unlock()
	if w != nil {
		w.mu.Lock()
		w.file.Close()
		w.mu.Unlock()
	}
	if id != "" {
		os.Remove(swapPath(id))
	}
}

// diskReadAt reads up to len(buf) bytes from the swap file at the given
// absolute file offset (envelope included), the disk counterpart of
// store_client::fileRead.
func diskReadAt(swapFileID string, offset int64, buf []byte) (int, error) {
	f, err := os.Open(swapPath(swapFileID))
	if err != nil {
		return 0, fmt.Errorf("store: open swap file: %w", err)
	}
	defer f.Close()
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}
