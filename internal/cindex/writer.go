package cindex

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

type namedBody struct {
	name string
	body []byte
}

// Archive accumulates named entries before Build lays out the bodies,
// index tables, and footer.
type Archive struct {
	entries []namedBody
}

// NewArchive starts an empty archive.
func NewArchive() *Archive {
	return &Archive{}
}

// AddEntry appends a named entry with its raw (pre-compression) body.
func (a *Archive) AddEntry(name string, body []byte) {
	a.entries = append(a.entries, namedBody{name: name, body: body})
}

// NewChunkNamesArchive builds the single-entry archive described in §4.J:
// one "chunknames" entry whose body is the newline-joined asset paths.
func NewChunkNamesArchive(assetPaths []string) *Archive {
	a := NewArchive()
	body := joinLines(assetPaths)
	a.AddEntry(chunkNamesEntryName, body)
	return a
}

func joinLines(lines []string) []byte {
	var out []byte
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return out
}

// BuildOptions controls Build's compression and index-encryption pass.
type BuildOptions struct {
	Compressor  Compressor // nil means store every body uncompressed
	AESKey      *primitives.AESKey
	EncryptIndex bool
}

// Build lays out bodies, the path-hash and full-directory index tables,
// and the 221-byte footer, returning the complete archive bytes.
func (a *Archive) Build(opts BuildOptions) ([]byte, error) {
	if opts.EncryptIndex && opts.AESKey == nil {
		return nil, cerr.New(cerr.ECrypto, "Archive.Build", "EncryptIndex requires an AES key")
	}

	var bodies []byte
	records := make([]dirRecord, len(a.entries))
	methodName := ""
	for i, e := range a.entries {
		stored := e.body
		methodSlot := uint32(0)
		if opts.Compressor != nil && opts.Compressor.Name() != "none" {
			compressed, ok, err := opts.Compressor.Compress(e.body)
			if err != nil {
				return nil, cerr.Wrap(cerr.ECompression, "Archive.Build", err)
			}
			if ok {
				stored = compressed
				methodSlot = 1
				methodName = opts.Compressor.Name()
			}
		}
		records[i] = dirRecord{
			path: e.name,
			entry: FileEntry{
				Offset:           uint64(len(bodies)),
				CompressedSize:   uint64(len(stored)),
				UncompressedSize: uint64(len(e.body)),
				MethodSlot:       methodSlot,
			},
		}
		bodies = append(bodies, stored...)
	}

	dirBytes, dirOffsets := buildFullDirectoryIndex(records)
	hashBytes := buildPathHashIndex(records, dirOffsets, PathHashSeed)

	content := make([]byte, 0, 4+len(hashBytes)+len(dirBytes))
	var sizeField [4]byte
	binary.LittleEndian.PutUint32(sizeField[:], uint32(len(hashBytes)))
	content = append(content, sizeField[:]...)
	content = append(content, hashBytes...)
	content = append(content, dirBytes...)

	indexHash := sha1Sum(content)

	indexBlob := content
	if opts.EncryptIndex {
		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(content)))
		padded := append(lenPrefix[:], content...)
		if rem := len(padded) % 16; rem != 0 {
			padded = append(padded, make([]byte, 16-rem)...)
		}
		encrypted, err := primitives.EncryptContainerECB(*opts.AESKey, padded)
		if err != nil {
			return nil, cerr.Wrap(cerr.ECrypto, "Archive.Build", err)
		}
		indexBlob = encrypted
	}

	footer := Footer{
		EncryptedIndex: opts.EncryptIndex,
		IndexOffset:    uint64(len(bodies)),
		IndexSize:      uint64(len(indexBlob)),
		IndexHashSHA1:  indexHash,
	}
	if methodName != "" {
		footer.CompressionMethods[0] = methodName
	}
	footerBytes, err := footer.marshal()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(bodies)+len(indexBlob)+footerSize)
	out = append(out, bodies...)
	out = append(out, indexBlob...)
	out = append(out, footerBytes...)
	return out, nil
}
