// Package frame decodes the binary tag-report stream sent by base stations.
//
// A stream is zero or more fixed 14-byte frames, each seven big-endian
// uint16 fields:
//
//	tagId reader1Id reader1Dist reader2Id reader2Dist reader3Id reader3Dist
//	00 01 00 00     00 6d       ff ff     00 00       ff ff     00 00
//
// A reader id of 0xFFFF marks an empty slot.
package frame

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// Size is the length of one encoded frame in bytes.
	Size = 14

	// NoReader marks a reader slot without a reading.
	NoReader uint16 = 0xFFFF

	// Slots is the number of reader/distance pairs per frame.
	Slots = 3
)

var (
	ErrMalformedFrameStream = errors.New("malformed frame stream")
	ErrMalformedReaderList  = errors.New("malformed reader list")
)

// Reading is one reader slot of a frame.
type Reading struct {
	ReaderID uint16
	Distance uint16
}

// Present reports whether the slot carries a real reader.
func (r Reading) Present() bool { return r.ReaderID != NoReader }

// Frame is one decoded tag sighting.
type Frame struct {
	TagID    uint16
	Readings [Slots]Reading
}

// Decode splits a raw stream into frames, preserving order. A stream whose
// length is not a multiple of Size yields no frames at all.
func Decode(b []byte) ([]Frame, error) {
	if len(b)%Size != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedFrameStream, len(b), Size)
	}
	frames := make([]Frame, 0, len(b)/Size)
	for off := 0; off < len(b); off += Size {
		frames = append(frames, decodeOne(b[off:off+Size]))
	}
	return frames, nil
}

// DecodeHex decodes the hex text form carried in property reports.
func DecodeHex(s string) ([]Frame, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrameStream, err)
	}
	return Decode(raw)
}

func decodeOne(b []byte) Frame {
	f := Frame{TagID: binary.BigEndian.Uint16(b[0:2])}
	for i := 0; i < Slots; i++ {
		off := 2 + i*4
		f.Readings[i] = Reading{
			ReaderID: binary.BigEndian.Uint16(b[off : off+2]),
			Distance: binary.BigEndian.Uint16(b[off+2 : off+4]),
		}
	}
	return f
}

// Encode is the inverse of Decode.
func Encode(frames []Frame) []byte {
	out := make([]byte, len(frames)*Size)
	for i, f := range frames {
		b := out[i*Size : (i+1)*Size]
		binary.BigEndian.PutUint16(b[0:2], f.TagID)
		for j, r := range f.Readings {
			off := 2 + j*4
			binary.BigEndian.PutUint16(b[off:off+2], r.ReaderID)
			binary.BigEndian.PutUint16(b[off+2:off+4], r.Distance)
		}
	}
	return out
}

// DecodeReaderList parses a base station's reader inventory: a hex string of
// little-endian uint16 reader ids, four hex characters per reader.
func DecodeReaderList(s string) ([]uint16, error) {
	s = strings.TrimSpace(s)
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformedReaderList, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReaderList, err)
	}
	ids := make([]uint16, 0, len(raw)/2)
	for off := 0; off < len(raw); off += 2 {
		ids = append(ids, binary.LittleEndian.Uint16(raw[off:off+2]))
	}
	return ids, nil
}
