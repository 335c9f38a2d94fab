package iostore

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"
	"sync"

	"github.com/DataDog/zstd"
	oodle "github.com/new-world-tools/go-oodle"
	"github.com/pierrec/lz4/v4"

	"github.com/zenforge/cascade/internal/cerr"
)

// Compressor compresses a full block and reports whether it did (the
// writer only keeps the compressed form when it's strictly smaller).
type Compressor interface {
	Name() string
	Compress(in []byte) (out []byte, ok bool, err error)
	Decompress(in []byte, expectedSize int) ([]byte, error)
	Available() bool
}

// noneCompressor is method index 0: never compresses, decompresses as a
// pass-through copy.
type noneCompressor struct{}

func (noneCompressor) Name() string                   { return "none" }
func (noneCompressor) Available() bool                 { return true }
func (noneCompressor) Compress(in []byte) ([]byte, bool, error) { return in, false, nil }
func (noneCompressor) Decompress(in []byte, expectedSize int) ([]byte, error) {
	if len(in) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "noneCompressor.Decompress", "size mismatch for uncompressed block")
	}
	return in, nil
}

type zlibCompressor struct{}

func (zlibCompressor) Name() string    { return "Zlib" }
func (zlibCompressor) Available() bool { return true }

func (zlibCompressor) Compress(in []byte) ([]byte, bool, error) {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	if _, err := w.Write(in); err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "zlibCompressor.Compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "zlibCompressor.Compress", err)
	}
	out := b.Bytes()
	return out, len(out) < len(in), nil
}

func (zlibCompressor) Decompress(in []byte, expectedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "zlibCompressor.Decompress", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "zlibCompressor.Decompress", err)
	}
	if len(out) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "zlibCompressor.Decompress", "decoded size does not match recorded uncompressed size")
	}
	return out, nil
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string    { return "Gzip" }
func (gzipCompressor) Available() bool { return true }

func (gzipCompressor) Compress(in []byte) ([]byte, bool, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(in); err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "gzipCompressor.Compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "gzipCompressor.Compress", err)
	}
	out := b.Bytes()
	return out, len(out) < len(in), nil
}

func (gzipCompressor) Decompress(in []byte, expectedSize int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "gzipCompressor.Decompress", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "gzipCompressor.Decompress", err)
	}
	if len(out) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "gzipCompressor.Decompress", "decoded size does not match recorded uncompressed size")
	}
	return out, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Name() string    { return "LZ4" }
func (lz4Compressor) Available() bool { return true }

func (lz4Compressor) Compress(in []byte) ([]byte, bool, error) {
	var b bytes.Buffer
	w := lz4.NewWriter(&b)
	if _, err := w.Write(in); err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "lz4Compressor.Compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "lz4Compressor.Compress", err)
	}
	out := b.Bytes()
	return out, len(out) < len(in), nil
}

func (lz4Compressor) Decompress(in []byte, expectedSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(in))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "lz4Compressor.Decompress", err)
	}
	if len(out) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "lz4Compressor.Decompress", "decoded size does not match recorded uncompressed size")
	}
	return out, nil
}

// zstdCompressor is registered under "zstd"; the reader uses it for blocks
// recorded with that method, and the writer selects it only when "Zstd" is
// listed in WriterOptions.CompressionMethods.
type zstdCompressor struct{}

func (zstdCompressor) Name() string    { return "Zstd" }
func (zstdCompressor) Available() bool { return true }

func (zstdCompressor) Compress(in []byte) ([]byte, bool, error) {
	out, err := zstd.Compress(nil, in)
	if err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "zstdCompressor.Compress", err)
	}
	return out, len(out) < len(in), nil
}

func (zstdCompressor) Decompress(in []byte, expectedSize int) ([]byte, error) {
	out, err := zstd.Decompress(nil, in)
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "zstdCompressor.Decompress", err)
	}
	if len(out) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "zstdCompressor.Decompress", "decoded size does not match recorded uncompressed size")
	}
	return out, nil
}

// oodleCompressor wraps the Oodle Kraken FFI, lazily and idempotently
// probed exactly once per process per §5/§9 ("lazy load and probing of the
// Oodle FFI library... is idempotent and guarded by a one-shot initializer").
type oodleCompressor struct {
	once      sync.Once
	available bool
}

var sharedOodle = &oodleCompressor{}

func (o *oodleCompressor) ensure() {
	o.once.Do(func() {
		if oodle.IsDllExist() {
			o.available = true
			return
		}
		if err := oodle.Download(); err == nil {
			o.available = oodle.IsDllExist()
		}
	})
}

func (o *oodleCompressor) Name() string { return "Oodle" }

func (o *oodleCompressor) Available() bool {
	o.ensure()
	return o.available
}

func (o *oodleCompressor) Compress(in []byte) ([]byte, bool, error) {
	o.ensure()
	if !o.available {
		return nil, false, nil
	}
	out, err := oodle.Compress(in, oodle.AlgoKraken, oodle.CompressionLevelOptimal3)
	if err != nil {
		return nil, false, cerr.Wrap(cerr.ECompression, "oodleCompressor.Compress", err)
	}
	return out, len(out) < len(in), nil
}

func (o *oodleCompressor) Decompress(in []byte, expectedSize int) ([]byte, error) {
	o.ensure()
	if !o.available {
		return nil, cerr.New(cerr.ECompression, "oodleCompressor.Decompress", "Oodle FFI unavailable")
	}
	out, err := oodle.Decompress(in, int64(expectedSize))
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "oodleCompressor.Decompress", err)
	}
	if len(out) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "oodleCompressor.Decompress", "decoded size does not match recorded uncompressed size")
	}
	return out, nil
}

// NoopOodle satisfies §9's Design Notes: a no-op stand-in used by tests in
// place of the real FFI, which always reports "not smaller" so the writer
// falls back to method 0.
type NoopOodle struct{}

func (NoopOodle) Name() string    { return "Oodle" }
func (NoopOodle) Available() bool { return true }
func (NoopOodle) Compress(in []byte) ([]byte, bool, error) { return in, false, nil }
func (NoopOodle) Decompress(in []byte, expectedSize int) ([]byte, error) {
	if len(in) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "NoopOodle.Decompress", "size mismatch")
	}
	return in, nil
}

// registry resolves a compressor by name, case-insensitively, mirroring the
// teacher's CompressionMethods/DecompressionMethods maps.
type registry struct {
	byName map[string]Compressor
}

func newRegistry(extra ...Compressor) *registry {
	r := &registry{byName: map[string]Compressor{
		"none": noneCompressor{},
		"zlib": zlibCompressor{},
		"gzip": gzipCompressor{},
		"lz4":  lz4Compressor{},
		"zstd": zstdCompressor{},
	}}
	r.byName["oodle"] = sharedOodle
	for _, c := range extra {
		r.byName[strings.ToLower(c.Name())] = c
	}
	return r
}

func (r *registry) get(name string) (Compressor, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}
