// Package compress implements the size-gated payload codec used by the
// router before messages enter the dispatch queue.
package compress

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"sync"
)

// Algorithm names a supported compression scheme.
type Algorithm string

const (
	None    Algorithm = "none"
	Gzip    Algorithm = "gzip"
	Deflate Algorithm = "deflate"
)

// DefaultMinSize is the payload size below which compression is skipped.
const DefaultMinSize = 1024

// UnsupportedAlgorithmError is returned for algorithm names outside the
// closed set. The codec never silently falls back to another algorithm.
type UnsupportedAlgorithmError struct {
	Algorithm Algorithm
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported compression algorithm: %q", e.Algorithm)
}

// Stats holds cumulative byte totals for one algorithm.
type Stats struct {
	Calls          int64 `json:"calls"`
	OriginalBytes  int64 `json:"original_bytes"`
	CompressedByte int64 `json:"compressed_bytes"`
}

// Ratio returns the cumulative compression ratio 1 - compressed/original,
// or 0 when nothing has been compressed yet.
func (s Stats) Ratio() float64 {
	if s.OriginalBytes == 0 {
		return 0
	}
	return 1 - float64(s.CompressedByte)/float64(s.OriginalBytes)
}

// Codec compresses and decompresses payloads and accumulates per-algorithm
// stats. Safe for concurrent use.
type Codec struct {
	minSize int

	mu    sync.Mutex
	stats map[Algorithm]*Stats
}

// NewCodec creates a codec. minSize <= 0 selects DefaultMinSize.
func NewCodec(minSize int) *Codec {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Codec{
		minSize: minSize,
		stats:   make(map[Algorithm]*Stats),
	}
}

// ShouldCompress reports whether a payload of the given size clears the
// minimum-size threshold.
func (c *Codec) ShouldCompress(size int) bool {
	return size >= c.minSize
}

// Compress compresses data with the named algorithm. None returns the
// input unchanged (and records no stats).
func (c *Codec) Compress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case None:
		return data, nil
	case Gzip, Deflate:
	default:
		return nil, &UnsupportedAlgorithmError{Algorithm: algo}
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	if algo == Gzip {
		w = gzip.NewWriter(&buf)
	} else {
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	c.record(algo, len(data), len(out))
	return out, nil
}

// Decompress reverses Compress for the named algorithm.
func (c *Codec) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case None:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case Deflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, &UnsupportedAlgorithmError{Algorithm: algo}
	}
}

func (c *Codec) record(algo Algorithm, original, compressed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stats[algo]
	if !ok {
		st = &Stats{}
		c.stats[algo] = st
	}
	st.Calls++
	st.OriginalBytes += int64(original)
	st.CompressedByte += int64(compressed)
}

// Stats returns a snapshot of per-algorithm totals.
func (c *Codec) Stats() map[Algorithm]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Algorithm]Stats, len(c.stats))
	for algo, st := range c.stats {
		out[algo] = *st
	}
	return out
}
