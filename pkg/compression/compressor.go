// Package compression compresses auxiliary export documents.
//
// # Algorithm Selection
//
//   - Gzip: wide compatibility, the default for history documents
//   - Zstd: better ratio and speed where readers support it
//   - None: documents are written as-is
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(compression.Gzip)
//	compressed, err := comp.Compress(data)
//	name := "history.json" + comp.Extension()
package compression

import (
	"bytes"
	"io"
	"sync"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
)

// Compressor compresses and decompresses whole documents.
// All implementations are safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	// Extension is the file name suffix for compressed output, including
	// the dot, or "" for None
	Extension() string
	Algorithm() Algorithm
}

// ParseAlgorithm maps a config value to an algorithm. Booleans are accepted
// for the common "compress: true" form and mean gzip.
func ParseAlgorithm(v string) (Algorithm, error) {
	switch v {
	case "", "none", "false":
		return None, nil
	case "gzip", "true":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", v)
	}
}

// NewCompressor creates a compressor for the algorithm
func NewCompressor(algorithm Algorithm) (Compressor, error) {
	switch algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(), nil
	case Zstd:
		return newZstdCompressor()
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", algorithm)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Extension() string                      { return "" }
func (noneCompressor) Algorithm() Algorithm                   { return None }

// Gzip compressor
type gzipCompressor struct {
	writerPool sync.Pool
}

func newGzipCompressor() *gzipCompressor {
	gc := &gzipCompressor{}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	var buf bytes.Buffer
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "gzip compression failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "gzip compression failed")
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "gzip decompression failed")
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "gzip decompression failed")
	}
	return out, nil
}

func (gc *gzipCompressor) Extension() string    { return ".gz" }
func (gc *gzipCompressor) Algorithm() Algorithm { return Gzip }

// Zstd compressor. EncodeAll and DecodeAll are safe for concurrent use.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd decoder")
	}
	return &zstdCompressor{encoder: enc, decoder: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := zc.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "zstd decompression failed")
	}
	return out, nil
}

func (zc *zstdCompressor) Extension() string    { return ".zst" }
func (zc *zstdCompressor) Algorithm() Algorithm { return Zstd }
