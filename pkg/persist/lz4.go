package persist

import (
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4Codec wraps another codec with LZ4 frame compression. Intended for
// bulk state such as result archives where the payload dwarfs the frame
// overhead; small records are better served by the inner codec directly.
type LZ4Codec struct {
	Inner Codec
}

// NewLZ4Codec creates an LZ4-compressed codec around inner.
func NewLZ4Codec(inner Codec) *LZ4Codec {
	return &LZ4Codec{Inner: inner}
}

// Encode implements Codec.Encode, compressing the inner codec's output.
func (c *LZ4Codec) Encode(w io.Writer, state any) error {
	zw := lz4.NewWriter(w)

	err := c.Inner.Encode(zw, state)
	if err != nil {
		zw.Close()

		return fmt.Errorf("lz4 encode: %w", err)
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 flush: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode, decompressing before the inner codec runs.
func (c *LZ4Codec) Decode(r io.Reader, state any) error {
	err := c.Inner.Decode(lz4.NewReader(r), state)
	if err != nil {
		return fmt.Errorf("lz4 decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension by suffixing the inner extension.
func (c *LZ4Codec) Extension() string {
	return c.Inner.Extension() + ".lz4"
}
