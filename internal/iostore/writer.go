package iostore

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

// WriterOptions configures a Writer session.
type WriterOptions struct {
	ContainerId        uint64
	MountPoint         string
	CompressionBlockSize uint32 // defaults to 64KiB
	CompressionMethods []string // registered method names, in index order
	AESKey             *primitives.AESKey
	Obfuscate          bool
	HeaderVersion      *HeaderVersion // nil means no ContainerHeader chunk is emitted
	Logger             *zap.Logger
	// Oodle lets tests substitute a no-op compressor; nil uses the shared
	// lazily-initialized FFI wrapper.
	Oodle Compressor
}

type chunkMeta struct {
	id     ChunkId
	hash   [32]byte
}

// Writer streams chunks into a new IoStore container. A session receives N
// chunk writes in call order, then is finalized with Complete; there is no
// random access to already-written chunks.
type Writer struct {
	opts WriterOptions
	log  *zap.Logger

	store  bytes.Buffer
	chunks []ChunkId
	offsetLengths []primitives.OffsetLength
	blocks []primitives.BlockEntry
	metas  []chunkMeta
	dir    *DirectoryIndex
	entriesByPackage map[uint64]StoreEntry
	packageOrder     []uint64

	registry *registry
	blockSize uint32
	closed   bool
}

// NewWriter starts a new writer session. The caller owns storePath/tocPath
// and is responsible for deleting partial files on failure.
func NewWriter(opts WriterOptions) *Writer {
	if opts.CompressionBlockSize == 0 {
		opts.CompressionBlockSize = 64 * 1024
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var extra []Compressor
	if opts.Oodle != nil {
		extra = append(extra, opts.Oodle)
	}
	return &Writer{
		opts:     opts,
		log:      log,
		dir:      NewDirectoryIndex(opts.MountPoint),
		entriesByPackage: make(map[uint64]StoreEntry),
		registry: newRegistry(extra...),
		blockSize: opts.CompressionBlockSize,
	}
}

// methodIndex returns the 1-based index of name in the registered
// compression methods, or 0 for "none"/not found.
func (w *Writer) methodIndex(name string) uint8 {
	for i, m := range w.opts.CompressionMethods {
		if strings.EqualFold(m, name) {
			return uint8(i + 1)
		}
	}
	return 0
}

// writeChunkBytes is the common path for writeChunk/writeChunkUncompressed.
func (w *Writer) writeChunkBytes(id ChunkId, data []byte, forceUncompressed bool) (int, error) {
	if w.closed {
		return 0, cerr.New(cerr.EInvariant, "Writer.writeChunkBytes", "writer already completed")
	}
	startBlock := w.blockCountSoFar()
	virtualOffset := startBlock * uint64(w.blockSize)

	hasher := primitives.NewBlake3ChunkHash()

	for off := 0; off < len(data); off += int(w.blockSize) {
		end := off + int(w.blockSize)
		if end > len(data) {
			end = len(data)
		}
		slice := data[off:end]
		hasher.Write(slice)

		// The last block of a chunk is zero-padded up to the full block
		// size in the uncompressed domain before compression, so the sum
		// of uncompressedSize across a chunk's blocks is always the
		// chunk's length rounded up to the block size (invariant 4). The
		// chunk hash above is computed over the real, unpadded bytes so a
		// reader that truncates to the recorded length still reproduces
		// the original input exactly.
		padded := slice
		if len(padded) < int(w.blockSize) {
			padded = make([]byte, w.blockSize)
			copy(padded, slice)
		}

		encoded := padded
		method := uint8(0)
		uncompressedSize := uint32(len(padded))

		if !forceUncompressed {
			for _, name := range w.opts.CompressionMethods {
				c, ok := w.registry.get(name)
				if !ok || !c.Available() {
					continue
				}
				out, ok2, err := c.Compress(padded)
				if err != nil {
					return 0, cerr.Wrap(cerr.ECompression, "Writer.writeChunkBytes", err)
				}
				if ok2 {
					encoded = out
					method = w.methodIndex(name)
				}
				break // only the first listed method that is known and available is attempted
			}
		}

		if w.opts.AESKey != nil {
			padded := encoded
			if rem := len(padded) % 16; rem != 0 {
				padded = append(append([]byte{}, padded...), make([]byte, 16-rem)...)
			}
			enc, err := primitives.EncryptContainerECB(*w.opts.AESKey, padded)
			if err != nil {
				return 0, cerr.Wrap(cerr.ECrypto, "Writer.writeChunkBytes", err)
			}
			encoded = enc
		}

		rawOffset := uint64(w.store.Len())
		w.store.Write(encoded)
		w.blocks = append(w.blocks, primitives.BlockEntry{
			Offset:           rawOffset,
			CompressedSize:   uint32(len(encoded)),
			UncompressedSize: uncompressedSize,
			Method:           method,
		})
	}

	w.chunks = append(w.chunks, id)
	w.offsetLengths = append(w.offsetLengths, primitives.OffsetLength{Offset: virtualOffset, Length: uint64(len(data))})
	w.metas = append(w.metas, chunkMeta{id: id, hash: hasher.Sum32()})
	return len(w.chunks) - 1, nil
}

func (w *Writer) blockCountSoFar() uint64 {
	// Virtual offsets are multiples of the block size; since every chunk's
	// data is padded to block-size boundaries in the block table, the next
	// chunk's first virtual block is simply the running block count.
	return uint64(len(w.blocks))
}

// WriteChunk appends a chunk, optionally indexing it under a path.
func (w *Writer) WriteChunk(id ChunkId, optionalPath string, data []byte) error {
	idx, err := w.writeChunkBytes(id, data, false)
	if err != nil {
		return err
	}
	if optionalPath != "" {
		rel := strings.TrimPrefix(optionalPath, w.opts.MountPoint)
		w.dir.Insert(rel, idx)
	}
	return nil
}

// WriteChunkUncompressed writes a chunk with method index 0 even if
// compression is globally enabled; used for the ContainerHeader chunk.
func (w *Writer) WriteChunkUncompressed(id ChunkId, data []byte) error {
	_, err := w.writeChunkBytes(id, data, true)
	return err
}

// WritePackageChunk writes a package's export-bundle data chunk and
// records its StoreEntry keyed by PackageId.
func (w *Writer) WritePackageChunk(id ChunkId, path string, data []byte, entry StoreEntry) error {
	if err := w.WriteChunk(id, path, data); err != nil {
		return err
	}
	if _, seen := w.entriesByPackage[id.Id]; !seen {
		w.packageOrder = append(w.packageOrder, id.Id)
	}
	w.entriesByPackage[id.Id] = entry
	return nil
}

// Complete finalizes the session: builds the ContainerHeader chunk (if a
// header version was configured and at least one package was written),
// builds the directory index, and writes the TOC + content store files.
func (w *Writer) Complete(storeWriter io.Writer, tocWriter io.Writer) error {
	if w.closed {
		return cerr.New(cerr.EInvariant, "Writer.Complete", "writer already completed")
	}
	w.closed = true

	if w.opts.HeaderVersion != nil && len(w.packageOrder) > 0 {
		ch := &ContainerHeader{
			Version:     *w.opts.HeaderVersion,
			ContainerId: w.opts.ContainerId,
			PackageIds:  append([]uint64{}, w.packageOrder...),
		}
		for _, pid := range w.packageOrder {
			ch.Entries = append(ch.Entries, w.entriesByPackage[pid])
		}
		id := ChunkId{Id: w.opts.ContainerId, Index: 0, Type: ChunkTypeContainerHeader}
		if err := w.WriteChunkUncompressed(id, ch.Marshal()); err != nil {
			return err
		}
		w.log.Debug("wrote container header chunk", zap.Uint64("containerId", w.opts.ContainerId), zap.Int("packages", len(w.packageOrder)))
	}

	dirBytes := w.dir.Marshal()

	flags := ContainerFlagIndexed
	if len(w.opts.CompressionMethods) > 0 {
		flags |= ContainerFlagCompressed
	}
	var keyGuid [16]byte
	if w.opts.AESKey != nil {
		flags |= ContainerFlagEncrypted
		if !w.opts.Obfuscate {
			// a real deployment derives the GUID from key material; this
			// core only needs a stable non-zero marker when not obfuscating.
			for i := range keyGuid {
				keyGuid[i] = 0xAA
			}
		}
	}

	hdr := &tocHeader{
		Version:              2,
		HeaderSize:           tocHeaderSize,
		EntryCount:           uint32(len(w.chunks)),
		CompressedBlockCount: uint32(len(w.blocks)),
		CompressionBlockSize: w.blockSize,
		DirectoryIndexSize:   uint32(len(dirBytes)),
		PartitionCount:       1,
		ContainerId:          w.opts.ContainerId,
		EncryptionKeyGuid:    keyGuid,
		ContainerFlags:       uint8(flags),
		PartitionSize:        uint64(w.store.Len()),
	}
	copy(hdr.Magic[:], tocMagic)

	var buf bytes.Buffer
	buf.Write(hdr.marshal())
	for _, c := range w.chunks {
		b := c.Bytes()
		buf.Write(b[:])
	}
	for _, ol := range w.offsetLengths {
		b, err := primitives.WriteOffsetLength(ol)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	// version >= PerfectHash: zero seeds and zero overflow, per §4.H.3.
	for _, b := range w.blocks {
		enc, err := primitives.WriteBlockEntry(b)
		if err != nil {
			return err
		}
		buf.Write(enc)
	}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(w.opts.CompressionMethods)))
	buf.Write(countBuf[:])
	for _, m := range w.opts.CompressionMethods {
		var name [32]byte
		copy(name[:], m)
		buf.Write(name[:])
	}
	buf.Write(dirBytes)
	for _, m := range w.metas {
		buf.Write(m.hash[:])
	}

	if _, err := tocWriter.Write(buf.Bytes()); err != nil {
		return cerr.Wrap(cerr.EMissing, "Writer.Complete", err)
	}
	if _, err := storeWriter.Write(w.store.Bytes()); err != nil {
		return cerr.Wrap(cerr.EMissing, "Writer.Complete", err)
	}
	return nil
}

// CompleteFiles is a convenience wrapper opening/creating the two output
// files directly.
func (w *Writer) CompleteFiles(storePath, tocPath string) error {
	storeF, err := os.Create(storePath)
	if err != nil {
		return cerr.Wrap(cerr.EMissing, "Writer.CompleteFiles", err)
	}
	defer storeF.Close()
	tocF, err := os.Create(tocPath)
	if err != nil {
		return cerr.Wrap(cerr.EMissing, "Writer.CompleteFiles", err)
	}
	defer tocF.Close()
	return w.Complete(storeF, tocF)
}
