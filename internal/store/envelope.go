package store

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortEnvelope is returned by DecodeEnvelope when fewer bytes than a
// declared record length are available.
var ErrShortEnvelope = errors.New("store: short swap metadata envelope")

// Envelope record types. Each record is a typed, length-prefixed value; the
// reader parses every record it recognizes and skips any it does not. Only
// the key record is compared with the entry (see Envelope.Consistent).
const (
	RecordKey        uint8 = 1
	RecordURL        uint8 = 2
	RecordObjectSize uint8 = 3 // object size, 8 bytes big-endian
	RecordVary       uint8 = 4 // variance (Vary) signature
)

// Envelope is the on-disk metadata header written ahead of every swapped-out
// object's body: a leading byte count followed by a list of
// {type:u8, length:u32, value:bytes} records, per the wire format
// store_client::unpackHeader parses before any body bytes are delivered to
// a reader.
type Envelope struct {
	Key        string
	URL        string
	ObjectSize int64
	Variant    string
}

func appendRecord(buf []byte, recType uint8, value []byte) []byte {
	buf = append(buf, recType)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, value...)
}

// EncodeEnvelope serializes e into the leading-byte-count-plus-TLV-records
// layout DecodeEnvelope parses. The returned size is also the swap_hdr_sz a
// reader must skip before body bytes begin.
func EncodeEnvelope(e Envelope) []byte {
	var body []byte
	body = appendRecord(body, RecordKey, []byte(e.Key))
	body = appendRecord(body, RecordURL, []byte(e.URL))

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(e.ObjectSize))
	body = appendRecord(body, RecordObjectSize, sizeBuf[:])

	if e.Variant != "" {
		body = appendRecord(body, RecordVary, []byte(e.Variant))
	}

	out := make([]byte, 0, 4+len(body))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(body)))
	out = append(out, countBuf[:]...)
	out = append(out, body...)
	return out
}

// DecodeEnvelope parses the header written by EncodeEnvelope, returning the
// envelope and the number of bytes it occupied (the swap_hdr_sz offset body
// reads must start from). It mirrors store_client::unpackHeader's role:
// called once per entry, the first time a reader needs bytes past the
// header, never again afterward. Each record is sanity-checked for length
// before being consumed; unrecognized record types are skipped rather than
// rejected, so future record kinds do not break old readers.
func DecodeEnvelope(buf []byte) (Envelope, int, error) {
	if len(buf) < 4 {
		return Envelope{}, 0, ErrShortEnvelope
	}
	bodyLen := int(binary.BigEndian.Uint32(buf[0:4]))
	total := 4 + bodyLen
	if len(buf) < total {
		return Envelope{}, 0, ErrShortEnvelope
	}

	var e Envelope
	pos := 4
	end := total
	for pos < end {
		if pos+5 > end {
			return Envelope{}, 0, ErrShortEnvelope
		}
		recType := buf[pos]
		recLen := int(binary.BigEndian.Uint32(buf[pos+1 : pos+5]))
		pos += 5
		if pos+recLen > end {
			return Envelope{}, 0, fmt.Errorf("store: truncated envelope record type %d", recType)
		}
		value := buf[pos : pos+recLen]
		pos += recLen

		switch recType {
		case RecordKey:
			e.Key = string(value)
		case RecordURL:
			e.URL = string(value)
		case RecordObjectSize:
			if len(value) != 8 {
				return Envelope{}, 0, errors.New("store: malformed object size record")
			}
			e.ObjectSize = int64(binary.BigEndian.Uint64(value))
		case RecordVary:
			e.Variant = string(value)
		}
	}
	return e, total, nil
}

// Consistent reports whether the decoded envelope's key matches the entry's
// key. The URL, object-size and Vary records are not compared with the
// entry.
func (e Envelope) Consistent(entry *Entry) bool {
	return e.Key == entry.Key
}
