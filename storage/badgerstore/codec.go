package badgerstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// codec handles zstd compression of sample payloads.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// newCodec creates a codec with the given compression level (1-4).
func newCodec(level int) (*codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &codec{encoder: encoder, decoder: decoder}, nil
}

func (c *codec) compress(payload []byte) []byte {
	return c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
}

func (c *codec) decompress(data []byte) ([]byte, error) {
	payload, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return payload, nil
}

func (c *codec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
