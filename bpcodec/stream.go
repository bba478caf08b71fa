package bpcodec

import (
	"bytes"
	"errors"
	"fmt"
)

// Producer implements the §6 streaming "produce(bundle, blocks, out,
// offset, max, &done)" contract: a CL pulls successive slices out of an
// already-encoded bundle without the codec re-serializing on every call.
type Producer struct {
	buf []byte
}

// NewProducer encodes once, up front; Produce below is then a pure
// slice operation, safe to call repeatedly from a CL's write loop.
func NewProducer(p Primary, payload []byte) *Producer {
	return &Producer{buf: Encode(p, payload)}
}

// Len is the total encoded length, equivalent to FormattedLength.
func (pr *Producer) Len() int { return len(pr.buf) }

// Produce copies up to max bytes (or len(out) if max <= 0) starting at
// offset into out, reporting done once offset+n reaches the end.
func (pr *Producer) Produce(out []byte, offset, max int) (n int, done bool, err error) {
	if offset < 0 || offset > len(pr.buf) {
		return 0, false, fmt.Errorf("bpcodec: produce offset %d out of range [0,%d]", offset, len(pr.buf))
	}
	remaining := pr.buf[offset:]
	limit := len(out)
	if max > 0 && max < limit {
		limit = max
	}
	if limit > len(remaining) {
		limit = len(remaining)
	}
	n = copy(out[:limit], remaining[:limit])
	done = offset+n >= len(pr.buf)
	return n, done, nil
}

// Consumer implements the §6 streaming "consume(bundle, bytes, &done)"
// contract: a CL feeds it successive inbound slices as they arrive off
// the wire; Consume reports done once a complete primary+payload block
// pair has been assembled.
type Consumer struct {
	buf     bytes.Buffer
	primary Primary
	payload []byte
	done    bool
}

func NewConsumer() *Consumer { return &Consumer{} }

// Consume appends in to the internal buffer and attempts a decode.
// ErrShortBuffer from Decode is swallowed here — it just means more
// input is needed — everything else is a genuine framing error.
func (c *Consumer) Consume(in []byte) (consumed int, done bool, err error) {
	if c.done {
		return 0, true, nil
	}
	c.buf.Write(in)
	p, payload, derr := Decode(c.buf.Bytes())
	if derr != nil {
		if errors.Is(derr, ErrShortBuffer) {
			return len(in), false, nil
		}
		return len(in), false, derr
	}
	c.primary, c.payload, c.done = p, payload, true
	return len(in), true, nil
}

// Bundle returns the decoded primary block and payload once Consume has
// reported done; ok is false until then.
func (c *Consumer) Bundle() (Primary, []byte, bool) {
	return c.primary, c.payload, c.done
}
