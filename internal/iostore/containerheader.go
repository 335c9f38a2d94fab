package iostore

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
)

const containerHeaderMagic uint32 = 0x496F436E // "IoCn"

// StoreEntry is the per-package record inside the container header's
// store-entries buffer (§3). In the NoExportInfo header version only
// ImportedPackages survives; the fixed per-entry size there is 16 bytes.
type StoreEntry struct {
	ExportCount       uint32
	ExportBundleCount uint32
	LoadOrder         uint32
	ImportedPackages  []uint64 // PackageIds
	ShaderMapHashes   [][20]byte
}

// ContainerHeader is the header-chunk payload enumerating every package in
// the container (§3, §6).
type ContainerHeader struct {
	Version     HeaderVersion
	ContainerId uint64
	PackageIds  []uint64
	Entries     []StoreEntry // parallel to PackageIds
}

// Marshal encodes the container header in the two-pass layout required by
// §3: all fixed entries first, then the variable-length arrays
// (imported packages, shader-map hashes) concatenated in package order.
func (h *ContainerHeader) Marshal() []byte {
	fixedSize := h.Version.fixedEntrySize()
	fixedBuf := make([]byte, fixedSize*len(h.Entries))
	var varBuf []byte

	for i, e := range h.Entries {
		rec := fixedBuf[i*fixedSize : (i+1)*fixedSize]
		relOffset := uint32(len(fixedBuf) + len(varBuf))
		switch h.Version {
		case HeaderVersionNoExportInfo, HeaderVersionSoftPackageReferences:
			binary.LittleEndian.PutUint32(rec[0:], uint32(len(e.ImportedPackages)))
			binary.LittleEndian.PutUint32(rec[4:], relOffset)
			// remaining 8 bytes reserved/zero
		default:
			binary.LittleEndian.PutUint32(rec[0:], e.ExportCount)
			binary.LittleEndian.PutUint32(rec[4:], e.ExportBundleCount)
			binary.LittleEndian.PutUint32(rec[8:], e.LoadOrder)
			binary.LittleEndian.PutUint32(rec[12:], uint32(len(e.ImportedPackages)))
			binary.LittleEndian.PutUint32(rec[16:], relOffset)
			if fixedSize >= 24 {
				binary.LittleEndian.PutUint32(rec[20:], uint32(len(e.ShaderMapHashes)))
			}
		}
		for _, pid := range e.ImportedPackages {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], pid)
			varBuf = append(varBuf, b[:]...)
		}
		for _, sh := range e.ShaderMapHashes {
			varBuf = append(varBuf, sh[:]...)
		}
	}

	out := make([]byte, 0, 4+4+8+4+8*len(h.PackageIds)+len(fixedBuf)+len(varBuf))
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:], containerHeaderMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(h.Version))
	binary.LittleEndian.PutUint64(hdr[8:], h.ContainerId)
	out = append(out, hdr[:]...)

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(h.PackageIds)))
	out = append(out, countBuf[:]...)
	for _, pid := range h.PackageIds {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], pid)
		out = append(out, b[:]...)
	}
	out = append(out, fixedBuf...)
	out = append(out, varBuf...)
	return out
}

// ParseContainerHeader decodes the bytes produced by Marshal.
func ParseContainerHeader(b []byte) (*ContainerHeader, error) {
	if len(b) < 20 {
		return nil, cerr.New(cerr.EEncoding, "ParseContainerHeader", "short buffer for fixed header")
	}
	magic := binary.LittleEndian.Uint32(b[0:])
	if magic != containerHeaderMagic {
		return nil, cerr.New(cerr.EEncoding, "ParseContainerHeader", "bad container header magic")
	}
	h := &ContainerHeader{
		Version:     HeaderVersion(binary.LittleEndian.Uint32(b[4:])),
		ContainerId: binary.LittleEndian.Uint64(b[8:]),
	}
	off := 16
	count := binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.PackageIds = make([]uint64, count)
	for i := range h.PackageIds {
		if len(b) < off+8 {
			return nil, cerr.New(cerr.EEncoding, "ParseContainerHeader", "short buffer for package ids")
		}
		h.PackageIds[i] = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}

	fixedSize := h.Version.fixedEntrySize()
	varStart := off + fixedSize*int(count)
	if len(b) < varStart {
		return nil, cerr.New(cerr.EEncoding, "ParseContainerHeader", "short buffer for fixed entries")
	}
	h.Entries = make([]StoreEntry, count)
	for i := range h.Entries {
		rec := b[off+i*fixedSize : off+(i+1)*fixedSize]
		var e StoreEntry
		var impCount uint32
		var relOffset uint32
		var shaderCount uint32
		switch h.Version {
		case HeaderVersionNoExportInfo, HeaderVersionSoftPackageReferences:
			impCount = binary.LittleEndian.Uint32(rec[0:])
			relOffset = binary.LittleEndian.Uint32(rec[4:])
		default:
			e.ExportCount = binary.LittleEndian.Uint32(rec[0:])
			e.ExportBundleCount = binary.LittleEndian.Uint32(rec[4:])
			e.LoadOrder = binary.LittleEndian.Uint32(rec[8:])
			impCount = binary.LittleEndian.Uint32(rec[12:])
			relOffset = binary.LittleEndian.Uint32(rec[16:])
			if fixedSize >= 24 {
				shaderCount = binary.LittleEndian.Uint32(rec[20:])
			}
		}
		pos := off + int(relOffset)
		e.ImportedPackages = make([]uint64, impCount)
		for j := range e.ImportedPackages {
			if len(b) < pos+8 {
				return nil, cerr.New(cerr.EEncoding, "ParseContainerHeader", "short buffer for imported packages")
			}
			e.ImportedPackages[j] = binary.LittleEndian.Uint64(b[pos:])
			pos += 8
		}
		e.ShaderMapHashes = make([][20]byte, shaderCount)
		for j := range e.ShaderMapHashes {
			if len(b) < pos+20 {
				return nil, cerr.New(cerr.EEncoding, "ParseContainerHeader", "short buffer for shader map hashes")
			}
			copy(e.ShaderMapHashes[j][:], b[pos:pos+20])
			pos += 20
		}
		h.Entries[i] = e
	}
	return h, nil
}
