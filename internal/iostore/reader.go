package iostore

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

// ReaderOptions configures an opened container.
type ReaderOptions struct {
	AESKey *primitives.AESKey
	Logger *zap.Logger
	Oodle  Compressor
}

// Reader resolves chunk ids to bytes for the lifetime of a query session
// against one opened container (TOC + content store).
type Reader struct {
	log    *zap.Logger
	header *tocHeader
	chunks []ChunkId
	chunkIndexByID map[ChunkId]int
	offsetLengths []primitives.OffsetLength
	blocks []primitives.BlockEntry
	methods []string
	dir    *DirectoryIndex
	metas  [][32]byte

	store    io.ReaderAt
	aesKey   *primitives.AESKey
	registry *registry
}

// Open parses a TOC buffer and wires the reader to a content-store
// ReaderAt (typically an *os.File).
func Open(tocBytes []byte, store io.ReaderAt, opts ReaderOptions) (*Reader, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hdr, err := unmarshalTocHeader(tocBytes)
	if err != nil {
		return nil, err
	}
	off := tocHeaderSize

	chunks := make([]ChunkId, hdr.EntryCount)
	idx := make(map[ChunkId]int, hdr.EntryCount)
	for i := range chunks {
		if len(tocBytes) < off+12 {
			return nil, cerr.New(cerr.EEncoding, "Open", "short buffer for chunk id table")
		}
		c, err := ParseChunkId(tocBytes[off:])
		if err != nil {
			return nil, err
		}
		chunks[i] = c
		idx[c] = i
		off += 12
	}

	offsetLengths := make([]primitives.OffsetLength, hdr.EntryCount)
	for i := range offsetLengths {
		if len(tocBytes) < off+10 {
			return nil, cerr.New(cerr.EEncoding, "Open", "short buffer for offset/length table")
		}
		ol, err := primitives.ReadOffsetLength(tocBytes[off:])
		if err != nil {
			return nil, err
		}
		offsetLengths[i] = ol
		off += 10
	}

	// version >= PerfectHash tables are written as zero seeds/overflow and
	// are skipped entirely here since we always emit zero-length tables.

	blocks := make([]primitives.BlockEntry, hdr.CompressedBlockCount)
	for i := range blocks {
		if len(tocBytes) < off+12 {
			return nil, cerr.New(cerr.EEncoding, "Open", "short buffer for block table")
		}
		b, err := primitives.ReadBlockEntry(tocBytes[off:])
		if err != nil {
			return nil, err
		}
		blocks[i] = b
		off += 12
	}

	if len(tocBytes) < off+4 {
		return nil, cerr.New(cerr.EEncoding, "Open", "short buffer for method count")
	}
	methodCount := binary.LittleEndian.Uint32(tocBytes[off:])
	off += 4
	methods := make([]string, methodCount)
	for i := range methods {
		if len(tocBytes) < off+32 {
			return nil, cerr.New(cerr.EEncoding, "Open", "short buffer for method names")
		}
		methods[i] = cstr(tocBytes[off : off+32])
		off += 32
	}

	if len(tocBytes) < off+int(hdr.DirectoryIndexSize) {
		return nil, cerr.New(cerr.EEncoding, "Open", "short buffer for directory index")
	}
	dir, err := ParseDirectoryIndex(tocBytes[off : off+int(hdr.DirectoryIndexSize)])
	if err != nil {
		return nil, err
	}
	off += int(hdr.DirectoryIndexSize)

	metas := make([][32]byte, hdr.EntryCount)
	for i := range metas {
		if len(tocBytes) < off+32 {
			return nil, cerr.New(cerr.EEncoding, "Open", "short buffer for meta table")
		}
		copy(metas[i][:], tocBytes[off:off+32])
		off += 32
	}

	var extra []Compressor
	if opts.Oodle != nil {
		extra = append(extra, opts.Oodle)
	}

	return &Reader{
		log:            log,
		header:         hdr,
		chunks:         chunks,
		chunkIndexByID: idx,
		offsetLengths:  offsetLengths,
		blocks:         blocks,
		methods:        methods,
		dir:            dir,
		metas:          metas,
		store:          store,
		aesKey:         opts.AESKey,
		registry:       newRegistry(extra...),
	}, nil
}

// OpenFiles is a convenience wrapper that reads the TOC file and opens the
// content store file.
func OpenFiles(tocPath, storePath string, opts ReaderOptions) (*Reader, error) {
	tocBytes, err := os.ReadFile(tocPath)
	if err != nil {
		return nil, cerr.Wrap(cerr.EMissing, "OpenFiles", err)
	}
	storeF, err := os.Open(storePath)
	if err != nil {
		return nil, cerr.Wrap(cerr.EMissing, "OpenFiles", err)
	}
	return Open(tocBytes, storeF, opts)
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (r *Reader) methodName(index uint8) (string, error) {
	if index == 0 {
		return "none", nil
	}
	if int(index) > len(r.methods) {
		return "", cerr.New(cerr.ECompression, "methodName", "method index out of range")
	}
	return r.methods[index-1], nil
}

// ReadChunk resolves chunk bytes: decompression, decryption, and
// cross-block stitching, truncated to the chunk's recorded length.
func (r *Reader) ReadChunk(id ChunkId) ([]byte, error) {
	idx, ok := r.chunkIndexByID[id]
	if !ok {
		return nil, cerr.New(cerr.EMissing, "ReadChunk", "chunk id not present")
	}
	ol := r.offsetLengths[idx]
	firstBlock := ol.Offset / blockSizeFallback(r.header.CompressionBlockSize)
	lastBlock := uint64(0)
	if ol.Length > 0 {
		lastBlock = (ol.Offset + ol.Length - 1) / blockSizeFallback(r.header.CompressionBlockSize)
	} else {
		lastBlock = firstBlock
	}

	var assembled bytes.Buffer
	for bi := firstBlock; bi <= lastBlock; bi++ {
		if int(bi) >= len(r.blocks) {
			return nil, cerr.New(cerr.EMissing, "ReadChunk", "block index out of range")
		}
		be := r.blocks[bi]
		readLen := int(be.CompressedSize)
		if r.aesKey != nil {
			readLen = int(primitives.RoundUp(uint64(readLen), 16))
		}
		raw := make([]byte, readLen)
		if _, err := r.store.ReadAt(raw, int64(be.Offset)); err != nil {
			return nil, cerr.Wrap(cerr.EMissing, "ReadChunk", err)
		}
		if r.aesKey != nil {
			dec, err := primitives.DecryptContainerECB(*r.aesKey, raw)
			if err != nil {
				return nil, err
			}
			raw = dec[:be.CompressedSize]
		}
		if be.Method != 0 {
			name, err := r.methodName(be.Method)
			if err != nil {
				return nil, err
			}
			c, ok := r.registry.get(name)
			if !ok {
				return nil, cerr.New(cerr.ECompression, "ReadChunk", "unknown compression method name")
			}
			dec, err := c.Decompress(raw, int(be.UncompressedSize))
			if err != nil {
				return nil, err
			}
			raw = dec
		}
		assembled.Write(raw)
	}
	out := assembled.Bytes()
	if uint64(len(out)) < ol.Length {
		return nil, cerr.New(cerr.EInvariant, "ReadChunk", "assembled blocks shorter than recorded chunk length")
	}
	return out[:ol.Length], nil
}

func blockSizeFallback(v uint32) uint64 {
	if v == 0 {
		return 64 * 1024
	}
	return uint64(v)
}

// GetChunkPath resolves a chunk's relative path via the directory index, if present.
func (r *Reader) GetChunkPath(id ChunkId) (string, bool) {
	idx, ok := r.chunkIndexByID[id]
	if !ok {
		return "", false
	}
	for _, e := range r.dir.Walk() {
		if e.ChunkIndex == idx {
			return e.Path, true
		}
	}
	return "", false
}

// IsCompressed scans a prefix of the block table for any non-zero method.
func (r *Reader) IsCompressed() bool {
	limit := len(r.blocks)
	if limit > 64 {
		limit = 64
	}
	for i := 0; i < limit; i++ {
		if r.blocks[i].Method != 0 {
			return true
		}
	}
	return false
}

// ContainerHeaderChunk returns the decoded header chunk, if present.
func (r *Reader) ContainerHeaderChunk() (*ContainerHeader, bool, error) {
	for _, c := range r.chunks {
		if c.Type == ChunkTypeContainerHeader {
			data, err := r.ReadChunk(c)
			if err != nil {
				return nil, false, err
			}
			ch, err := ParseContainerHeader(data)
			if err != nil {
				return nil, false, err
			}
			return ch, true, nil
		}
	}
	return nil, false, nil
}

// ExtractScriptObjects returns the first chunk of type ScriptObjects, if any.
func (r *Reader) ExtractScriptObjects() ([]byte, bool, error) {
	for _, c := range r.chunks {
		if c.Type == ChunkTypeScriptObjects {
			data, err := r.ReadChunk(c)
			if err != nil {
				return nil, false, err
			}
			return data, true, nil
		}
	}
	return nil, false, nil
}

// Chunks returns every chunk id in TOC order.
func (r *Reader) Chunks() []ChunkId { return append([]ChunkId{}, r.chunks...) }
