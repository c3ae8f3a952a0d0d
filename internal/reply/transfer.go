package reply

import "github.com/cachegate/cachegate/internal/store"

// transferComplete reports whether everything the client asked for has now
// been copied out of entry for a reader positioned at offset: either the
// store itself is done and the reader has reached the end of the known
// object, or the reply declared a content length and the reader has copied
// at least that many bytes. A chunked reply is additionally required to
// have already sent its terminating chunk before this can report true.
func transferComplete(entry *store.Entry, offset int64, sentLastChunk bool) bool {
	if entry.Mem == nil {
		return false
	}
	reply := entry.Mem.Reply

	if objLen := entry.ObjectLen(); objLen >= 0 {
		headerSz := int64(0)
		if reply != nil {
			headerSz = reply.HeaderSize
		}
		if offset >= objLen-headerSz {
			return chunkedDone(reply, sentLastChunk)
		}
	}

	if reply != nil && reply.ContentLen >= 0 && offset >= reply.ContentLen {
		return chunkedDone(reply, sentLastChunk)
	}

	return false
}

func chunkedDone(reply *store.ReplyHeader, sentLastChunk bool) bool {
	if reply == nil {
		return true
	}
	if isChunked(reply) {
		return sentLastChunk
	}
	return true
}

func isChunked(reply *store.ReplyHeader) bool {
	for _, v := range reply.Headers["Transfer-Encoding"] {
		if v == "chunked" {
			return true
		}
	}
	return false
}
