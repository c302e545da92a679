package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/models"
)

// File format: header (magic, version, dimension, count) followed by one
// record per vector (id length, id bytes, dimension float32 little-endian).
// Records are written in insertion order so the tie-break ordering survives a
// restart.
var indexMagic = [4]byte{'K', 'V', 'E', 'C'}

const indexFormatVersion uint16 = 1

// Save writes the index to path atomically (temp file + rename). The parent
// directory is created if needed.
func (ix *Index) Save(path string) error {
	if path == "" {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := ix.writeTo(w); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func (ix *Index) writeTo(w io.Writer) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, indexFormatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(ix.dimensions)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ix.records))); err != nil {
		return err
	}
	for i := range ix.records {
		r := &ix.records[i]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(r.id))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, r.id); err != nil {
			return err
		}
		for _, v := range r.vec {
			if err := binary.Write(w, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load replaces the index contents from path. A missing file leaves the
// index empty and returns os.ErrNotExist for the caller to treat as a cold
// start. Any malformed header, version or dimension mismatch, or truncated
// record is models.ErrIndexCorrupt: the caller must fail startup and rebuild
// from the document store rather than run with a silently empty index.
func (ix *Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := ix.readFrom(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrIndexCorrupt, path, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records = records
	ix.byID = make(map[string]int, len(records))
	for i := range records {
		records[i].seq = uint64(i)
		ix.byID[records[i].id] = i
	}
	ix.nextSeq = uint64(len(records))
	return nil
}

func (ix *Index) readFrom(r io.Reader) ([]record, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %v", err)
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("bad magic %q", magic[:])
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %v", err)
	}
	if version != indexFormatVersion {
		return nil, fmt.Errorf("format version %d, expected %d", version, indexFormatVersion)
	}
	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimension: %v", err)
	}
	if int(dim) != ix.dimensions {
		return nil, fmt.Errorf("dimension %d, index expects %d", dim, ix.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %v", err)
	}
	records := make([]record, 0, count)
	for i := uint32(0); i < count; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("record %d: read id length: %v", i, err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, fmt.Errorf("record %d: read id: %v", i, err)
		}
		buf := make([]byte, 4*ix.dimensions)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("record %d: read vector: %v", i, err)
		}
		vec := make([]float32, ix.dimensions)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		records = append(records, record{id: string(idBytes), vec: vec})
	}
	// Anything after the declared records is corruption, not padding.
	var trailing [1]byte
	if _, err := r.Read(trailing[:]); err != io.EOF {
		return nil, fmt.Errorf("trailing data after %d records", count)
	}
	return records, nil
}
