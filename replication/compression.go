package replication

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressor pools zstd encoders and decoders for log entry payloads.
// Level 0 disables compression.
type compressor struct {
	enabled     bool
	level       zstd.EncoderLevel
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newCompressor(configLevel int) *compressor {
	return &compressor{
		enabled: configLevel > 0,
		level:   configLevelToZstd(configLevel),
	}
}

// configLevelToZstd maps config levels (1-4) to zstd.EncoderLevel
func configLevelToZstd(level int) zstd.EncoderLevel {
	switch level {
	case 1:
		return zstd.SpeedFastest
	case 2:
		return zstd.SpeedDefault
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedFastest
	}
}

// Compress returns the compressed payload, or the input unchanged when
// compression is disabled.
func (c *compressor) Compress(data []byte) ([]byte, error) {
	if !c.enabled {
		return data, nil
	}

	var enc *zstd.Encoder
	if pooled, ok := c.encoderPool.Get().(*zstd.Encoder); ok {
		enc = pooled
	} else {
		var err error
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
	}
	out := enc.EncodeAll(data, nil)
	c.encoderPool.Put(enc)
	return out, nil
}

// Decompress reverses Compress
func (c *compressor) Decompress(data []byte) ([]byte, error) {
	if !c.enabled {
		return data, nil
	}

	var dec *zstd.Decoder
	if pooled, ok := c.decoderPool.Get().(*zstd.Decoder); ok {
		dec = pooled
	} else {
		var err error
		dec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
	}
	out, err := dec.DecodeAll(data, nil)
	c.decoderPool.Put(dec)
	return out, err
}
