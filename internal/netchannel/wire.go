// Package netchannel implements the network fan-out transport:
// length-prefixed, s2-compressed serialised Chunks, a single-peer server
// that honours the buffer-cap back-pressure rule, and a reconnecting
// client.
package netchannel

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"

	"github.com/soundmesh/soundmesh/internal/chunk"
)

// RegisterEventType makes a concrete event-payload type (one that a
// processor stores in chunk.Payload.Event) transmissible over the wire.
// gob requires every concrete type carried through an interface field to
// be registered; callers wiring a network subscription order on a key
// that carries event-like data (patch lists, marked_patches) must call
// this once at startup for each such type.
func RegisterEventType(v any) {
	gob.Register(v)
}

// encodeChunk serialises c with gob then compresses it with s2, returning
// the big-endian-u32 length-prefixed frame ready to write to the wire.
func encodeChunk(c chunk.Chunk) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("netchannel: encoding chunk: %w", err)
	}
	compressed := s2.Encode(nil, buf.Bytes())

	frame := make([]byte, 4+len(compressed))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(compressed)))
	copy(frame[4:], compressed)
	return frame, nil
}

// decodeChunk reads one length-prefixed s2-compressed frame from r and
// decodes it back into a chunk.Chunk.
func decodeChunk(r io.Reader) (chunk.Chunk, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return chunk.Chunk{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return chunk.Chunk{}, fmt.Errorf("netchannel: short read: %w", err)
	}

	raw, err := s2.Decode(nil, compressed)
	if err != nil {
		return chunk.Chunk{}, fmt.Errorf("netchannel: s2 decode: %w", err)
	}

	var c chunk.Chunk
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&c); err != nil {
		return chunk.Chunk{}, fmt.Errorf("netchannel: decoding chunk: %w", err)
	}
	return c, nil
}
