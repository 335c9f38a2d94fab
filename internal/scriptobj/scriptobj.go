// Package scriptobj parses the script-object catalog shipped inside one
// chunk of the global container: a name batch followed by a table of
// ScriptObjectEntry records. It exposes class-path -> id and id ->
// qualified-name lookups used when resolving legacy script imports.
package scriptobj

import (
	"encoding/binary"
	"strings"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/namepool"
	"github.com/zenforge/cascade/internal/poi"
)

// Entry is a single script-object catalog record.
type Entry struct {
	NameIndex       namepool.NameIndex
	GlobalImportIndex poi.Index
	OuterIndex      poi.Index
	CDOClassIndex   poi.Index
}

// Catalog is read-only after construction and may be shared across
// sessions (§5).
type Catalog struct {
	names    []string
	entries  []Entry
	byID     map[uint64]int
	byNameLower map[string]int
}

// Parse decodes the catalog chunk: a name batch (§4.B batch form) followed
// by a u32 count and that many ScriptObjectEntry records, each
// {nameIndex, globalImportIndex, outerIndex, cdoClassIndex} as four u64s
// (NameIndex packed as index<<32|suffix).
func Parse(b []byte) (*Catalog, error) {
	names, _, err := namepoolDecodeBatch(b)
	if err != nil {
		return nil, err
	}
	off := namepoolBatchSize(b)
	if len(b) < off+4 {
		return nil, cerr.New(cerr.EEncoding, "scriptobj.Parse", "short buffer for entry count")
	}
	count := binary.LittleEndian.Uint32(b[off:])
	off += 4

	cat := &Catalog{
		names:       names,
		byID:        make(map[uint64]int, count),
		byNameLower: make(map[string]int, count),
	}
	for i := uint32(0); i < count; i++ {
		if len(b) < off+32 {
			return nil, cerr.New(cerr.EEncoding, "scriptobj.Parse", "short buffer for entry")
		}
		nameRaw := binary.LittleEndian.Uint64(b[off:])
		e := Entry{
			NameIndex:         namepool.NameIndex{Index: uint32(nameRaw >> 32), Suffix: uint32(nameRaw)},
			GlobalImportIndex: poi.Index(binary.LittleEndian.Uint64(b[off+8:])),
			OuterIndex:        poi.Index(binary.LittleEndian.Uint64(b[off+16:])),
			CDOClassIndex:     poi.Index(binary.LittleEndian.Uint64(b[off+24:])),
		}
		off += 32
		idx := len(cat.entries)
		cat.entries = append(cat.entries, e)
		cat.byID[e.GlobalImportIndex.Payload()] = idx
		qualified := cat.qualifiedName(idx)
		cat.byNameLower[strings.ToLower(qualified)] = idx
	}
	return cat, nil
}

// qualifiedName walks OuterIndex chains to build a dotted path; outers that
// are themselves script imports in this catalog are resolved recursively.
// Any other outer ends the walk: the entry's own name is returned with no
// prefix.
func (c *Catalog) qualifiedName(idx int) string {
	e := c.entries[idx]
	name := c.displayName(e.NameIndex)
	if e.OuterIndex.IsNull() {
		return name
	}
	if e.OuterIndex.Kind() == poi.KindScriptImport {
		if outerIdx, ok := c.byID[e.OuterIndex.Payload()]; ok {
			return c.qualifiedName(outerIdx) + "." + name
		}
	}
	return name
}

func (c *Catalog) displayName(n namepool.NameIndex) string {
	if int(n.Index) >= len(c.names) {
		return ""
	}
	base := c.names[n.Index]
	if n.Suffix == 0 {
		return base
	}
	return base + "_" + suffixDigits(n.Suffix-1)
}

func suffixDigits(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// LookupByID resolves a 62-bit script-object id (the POI payload) to its
// qualified name.
func (c *Catalog) LookupByID(id uint64) (string, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return "", false
	}
	return c.qualifiedName(idx), true
}

// LookupByQualifiedName resolves a lowercased qualified class path to the
// script-object catalog's 62-bit id.
func (c *Catalog) LookupByQualifiedName(qualified string) (uint64, bool) {
	idx, ok := c.byNameLower[strings.ToLower(qualified)]
	if !ok {
		return 0, false
	}
	return c.entries[idx].GlobalImportIndex.Payload(), true
}

// namepoolDecodeBatch and namepoolBatchSize are thin wrappers kept local so
// a single parse call also yields the consumed byte count, which the
// decoder itself doesn't currently return.
func namepoolDecodeBatch(b []byte) ([]string, uint64, error) {
	return namepool.DecodeBatch(b)
}

func namepoolBatchSize(b []byte) int {
	if len(b) < 16 {
		return len(b)
	}
	count := binary.LittleEndian.Uint32(b)
	totalBytes := binary.LittleEndian.Uint32(b[4:])
	return 16 + int(count)*8 + int(count)*2 + int(totalBytes)
}
