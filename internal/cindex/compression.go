package cindex

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

// Compressor compresses/decompresses one archive member body. Shares the
// shape of internal/iostore's dispatch table, reused here for the
// companion index's own entry bodies rather than imported across packages,
// since the two containers' compression passes operate on independently
// sized spans (whole-entry here, fixed blocks there).
type Compressor interface {
	Name() string
	Compress(in []byte) (out []byte, ok bool, err error)
	Decompress(in []byte, expectedSize int) ([]byte, error)
}

type noneCompressor struct{}

func (noneCompressor) Name() string { return "none" }
func (noneCompressor) Compress(in []byte) ([]byte, bool, error) { return in, false, nil }
func (noneCompressor) Decompress(in []byte, expectedSize int) ([]byte, error) {
	if len(in) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "noneCompressor.Decompress", "size mismatch for uncompressed entry")
	}
	return in, nil
}

type zlibCompressor struct{}

func (zlibCompressor) Name() string { return "Zlib" }
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
		return nil, cerr.New(cerr.ECompression, "zlibCompressor.Decompress", "decoded size mismatch")
	}
	return out, nil
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "Gzip" }
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
		return nil, cerr.New(cerr.ECompression, "gzipCompressor.Decompress", "decoded size mismatch")
	}
	return out, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "LZ4" }
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
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(in)))
	if err != nil {
		return nil, cerr.Wrap(cerr.ECompression, "lz4Compressor.Decompress", err)
	}
	if len(out) != expectedSize {
		return nil, cerr.New(cerr.ECompression, "lz4Compressor.Decompress", "decoded size mismatch")
	}
	return out, nil
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return "Zstd" }
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
		return nil, cerr.New(cerr.ECompression, "zstdCompressor.Decompress", "decoded size mismatch")
	}
	return out, nil
}

// oodleCompressor mirrors internal/iostore's one-shot FFI probe exactly
// (§5/§9); the two packages each keep their own sync.Once since a session
// may build a container and a companion index independently.
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
		return nil, cerr.New(cerr.ECompression, "oodleCompressor.Decompress", "decoded size mismatch")
	}
	return out, nil
}

// Registry resolves a Compressor by name, case-insensitively, over the
// archive's supported set {Zlib, Gzip, Oodle, LZ4, Zstd} plus None.
type Registry struct {
	byName map[string]Compressor
}

// NewRegistry builds the default registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Compressor{
		"none": noneCompressor{},
		"zlib": zlibCompressor{},
		"gzip": gzipCompressor{},
		"lz4":  lz4Compressor{},
		"zstd": zstdCompressor{},
		"oodle": sharedOodle,
	}}
}

// Get resolves name to a Compressor.
func (r *Registry) Get(name string) (Compressor, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}
