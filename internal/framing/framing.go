// Package framing implements the length-prefixed JSON record framing used
// by cmd/capturectl to exchange frames over stdin/stdout, standing in for
// the protobuf-over-socket transport a real connector/client would use.
package framing

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame's payload to defend against a
// corrupt or adversarial length prefix driving an unbounded allocation.
const maxFrameBytes = 64 << 20

// Writer emits length-prefixed JSON frames: a 4-byte big-endian payload
// length followed by the JSON encoding of the value.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteFrame marshals v and writes it as one length-prefixed frame.
func (fw *Writer) WriteFrame(v interface{}) error {
	var body, err = json.Marshal(v)
	if err != nil {
		return fmt.Errorf("framing: marshal: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := fw.w.Write(header[:]); err != nil {
		return fmt.Errorf("framing: write header: %w", err)
	}
	if _, err := fw.w.Write(body); err != nil {
		return fmt.Errorf("framing: write body: %w", err)
	}
	return nil
}

// Reader decodes length-prefixed JSON frames written by Writer.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r)} }

// ReadFrame reads one frame and unmarshals it into v. Returns io.EOF once
// the stream is exhausted cleanly between frames.
func (fr *Reader) ReadFrame(v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return err
	}
	var length = binary.BigEndian.Uint32(header[:])
	if length > maxFrameBytes {
		return fmt.Errorf("framing: frame of %d bytes exceeds limit %d", length, maxFrameBytes)
	}
	var body = make([]byte, length)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return fmt.Errorf("framing: read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("framing: unmarshal: %w", err)
	}
	return nil
}
