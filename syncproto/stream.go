// Package syncproto implements the three sync conversations - clone, pull,
// push - exchanged between a client and server over a framed byte stream,
// plus the login handshake and rateless-reconciliation-driven branch
// transfer shared by all three.
package syncproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameBytes bounds a single frame's declared length, so a corrupt or
// hostile peer can't make a reader allocate an unbounded buffer.
const maxFrameBytes = 1 << 30

// Stream is a bidirectional, message-framed channel between two sides of a
// sync conversation. Send/Receive marshal and frame exactly one
// MessagePack value per call.
type Stream interface {
	Send(v any) error
	Receive(v any) error
	Close() error
}

// writeFrame/readFrame implement the 8-byte length-prefixed framing shared
// by every Stream below. The source's Stream trait prefixes frames with a
// little-endian u64; this port uses big-endian instead, matching the
// teacher's own wire-length convention (node/p2p/envelope.go prefixes
// lengths and magic with binary.BigEndian throughout).
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("read frame: declared length %d exceeds maximum %d", n, maxFrameBytes)
	}
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// PipeStream is a Stream over any byte-oriented duplex transport - a
// net.Conn, an io.Pipe half-pair, or any other paired io.Reader/io.Writer.
// The Go analogue of the source's LocalStream, which wraps a tokio duplex
// pipe.
type PipeStream struct {
	r io.Reader
	w io.Writer
	c io.Closer
}

// NewPipeStream builds a PipeStream whose Close is a no-op.
func NewPipeStream(r io.Reader, w io.Writer) *PipeStream {
	return &PipeStream{r: r, w: w}
}

// NewPipeStreamCloser is NewPipeStream, but Close also closes c - useful
// when r and w are the two halves of a single net.Conn.
func NewPipeStreamCloser(r io.Reader, w io.Writer, c io.Closer) *PipeStream {
	return &PipeStream{r: r, w: w, c: c}
}

func (s *PipeStream) Send(v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("pipe stream: encode: %w", err)
	}
	return writeFrame(s.w, data)
}

func (s *PipeStream) Receive(v any) error {
	data, err := readFrame(s.r)
	if err != nil {
		return fmt.Errorf("pipe stream: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pipe stream: decode: %w", err)
	}
	return nil
}

func (s *PipeStream) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// StdStream is a Stream over the current process's own stdin/stdout, the
// Go analogue of the source's StdinStdout - used when the sync server runs
// as a one-shot subprocess reached over SSH.
type StdStream struct {
	r *bufio.Reader
	w io.Writer
}

func NewStdStream() *StdStream {
	return &StdStream{r: bufio.NewReader(os.Stdin), w: os.Stdout}
}

func (s *StdStream) Send(v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("std stream: encode: %w", err)
	}
	return writeFrame(s.w, data)
}

func (s *StdStream) Receive(v any) error {
	data, err := readFrame(s.r)
	if err != nil {
		return fmt.Errorf("std stream: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("std stream: decode: %w", err)
	}
	return nil
}

func (s *StdStream) Close() error { return nil }

// ChannelStream is a Stream over a pair of in-process byte channels, the Go
// analogue of the source's SshStream, which carries bytes over an mpsc
// channel with its own buffer for partial reads (take_n_bytes). Build a
// connected pair with NewChannelStreamPair to drive a conversation entirely
// in-process, e.g. in tests.
type ChannelStream struct {
	out   chan<- []byte
	in    <-chan []byte
	extra []byte

	mu     sync.Mutex
	closed bool
}

func NewChannelStream(out chan<- []byte, in <-chan []byte) *ChannelStream {
	return &ChannelStream{out: out, in: in}
}

// NewChannelStreamPair builds two ChannelStreams wired to each other.
func NewChannelStreamPair(buffer int) (client, server *ChannelStream) {
	aToB := make(chan []byte, buffer)
	bToA := make(chan []byte, buffer)
	return NewChannelStream(aToB, bToA), NewChannelStream(bToA, aToB)
}

// takeN blocks until at least n bytes have accumulated from in, the analogue
// of the source's take_n_bytes helper over read_extra.
func (s *ChannelStream) takeN(n int) ([]byte, error) {
	for len(s.extra) < n {
		chunk, ok := <-s.in
		if !ok {
			return nil, io.ErrClosedPipe
		}
		s.extra = append(s.extra, chunk...)
	}
	out := s.extra[:n:n]
	s.extra = s.extra[n:]
	return out, nil
}

func (s *ChannelStream) rawWrite(b []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	s.out <- append([]byte(nil), b...)
	return nil
}

func (s *ChannelStream) Send(v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("channel stream: encode: %w", err)
	}
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	if err := s.rawWrite(lenBuf[:]); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return s.rawWrite(data)
}

func (s *ChannelStream) Receive(v any) error {
	lenBuf, err := s.takeN(8)
	if err != nil {
		return fmt.Errorf("channel stream: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf)
	if n > maxFrameBytes {
		return fmt.Errorf("channel stream: declared length %d exceeds maximum %d", n, maxFrameBytes)
	}
	var payload []byte
	if n > 0 {
		payload, err = s.takeN(int(n))
		if err != nil {
			return fmt.Errorf("channel stream: read frame payload: %w", err)
		}
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("channel stream: decode: %w", err)
	}
	return nil
}

func (s *ChannelStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.out)
	return nil
}
