// internal/merkle/serialize.go
package merkle

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"media-vault/internal/storage"
)

// On-disk layout, all little-endian:
//
//	magic "MVT1" (4) | version u32 | treeId (16) | nodeCount u64 |
//	totalSize u64 | metaLen u32 | metadata JSON | nodes...
//
// Nodes are a depth-first pre-order dump. Each record:
//
//	kind u8 (0 = leaf, 1 = internal) | hash (32) | size u64 |
//	nodeCount u64 | leaf only: nameLen u32 | name | lastModified i64 ms
const (
	treeMagic   = "MVT1"
	treeVersion = 1

	kindLeaf     = 0
	kindInternal = 1
)

// SaveTree serializes the tree as one blob; readers see either the old
// tree or the new one, never a mix. The fs backend's temp-and-rename
// write gives the same guarantee S3's atomic PUT does.
func SaveTree(ctx context.Context, st storage.Storage, path string, t *Tree) error {
	data, err := Marshal(t)
	if err != nil {
		return err
	}
	return st.Write(ctx, path, "application/octet-stream", data)
}

// LoadTree reads the tree at path, (nil, nil) when absent.
func LoadTree(ctx context.Context, st storage.Storage, path string) (*Tree, error) {
	data, err := st.Read(ctx, path)
	if err != nil || data == nil {
		return nil, err
	}
	return Unmarshal(data)
}

func Marshal(t *Tree) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(treeMagic)
	writeU32(&buf, treeVersion)
	buf.Write(t.Meta.ID[:])
	var count, size uint64
	if t.Root != nil {
		count, size = uint64(t.Root.NodeCount), uint64(t.Root.Size)
	}
	writeU64(&buf, count)
	writeU64(&buf, size)
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return nil, err
	}
	writeU32(&buf, uint32(len(meta)))
	buf.Write(meta)
	if t.Root != nil {
		writeNode(&buf, t.Root)
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *SortNode) {
	if n.IsLeaf() {
		buf.WriteByte(kindLeaf)
		buf.Write(n.Hash)
		writeU64(buf, uint64(n.Size))
		writeU64(buf, uint64(n.NodeCount))
		writeU32(buf, uint32(len(n.Name)))
		buf.WriteString(n.Name)
		writeI64(buf, n.LastModified.UnixMilli())
		return
	}
	buf.WriteByte(kindInternal)
	buf.Write(n.Hash)
	writeU64(buf, uint64(n.Size))
	writeU64(buf, uint64(n.NodeCount))
	writeNode(buf, n.Left)
	writeNode(buf, n.Right)
}

// Unmarshal reconstructs the working tree and recomputes the merkle
// projection; the result is clean (dirty = false).
func Unmarshal(data []byte) (*Tree, error) {
	r := &treeReader{data: data}
	if magic := string(r.take(4)); magic != treeMagic {
		return nil, fmt.Errorf("not a tree file: magic %q", magic)
	}
	if v := r.u32(); v != treeVersion {
		return nil, fmt.Errorf("unsupported tree format version %d", v)
	}
	var id uuid.UUID
	copy(id[:], r.take(16))
	count := r.u64()
	r.u64() // total size, derivable from the root
	metaLen := r.u32()
	metaBytes := r.take(int(metaLen))
	if r.err != nil {
		return nil, r.err
	}
	t := NewTree(id)
	if err := json.Unmarshal(metaBytes, &t.Meta); err != nil {
		return nil, fmt.Errorf("tree metadata: %w", err)
	}
	t.Meta.ID = id
	if count > 0 {
		root, err := readNode(r)
		if err != nil {
			return nil, err
		}
		t.Root = root
	}
	if r.err != nil {
		return nil, r.err
	}
	t.refreshMeta()
	t.BuildMerkleTree()
	return t, nil
}

func readNode(r *treeReader) (*SortNode, error) {
	kind := r.u8()
	n := &SortNode{}
	n.Hash = append([]byte(nil), r.take(32)...)
	n.Size = int64(r.u64())
	n.NodeCount = int64(r.u64())
	switch kind {
	case kindLeaf:
		nameLen := r.u32()
		n.Name = string(r.take(int(nameLen)))
		n.LastModified = time.UnixMilli(r.i64()).UTC()
		n.ContentHash = n.Hash
		n.maxName = n.Name
	case kindInternal:
		left, err := readNode(r)
		if err != nil {
			return nil, err
		}
		right, err := readNode(r)
		if err != nil {
			return nil, err
		}
		n.Left, n.Right = left, right
		n.maxName = right.maxName
	default:
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("bad node kind %d", kind)
	}
	if r.err != nil {
		return nil, r.err
	}
	return n, nil
}

type treeReader struct {
	data []byte
	off  int
	err  error
}

func (r *treeReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("tree file truncated at offset %d", r.off)
		return make([]byte, n)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *treeReader) u8() byte    { return r.take(1)[0] }
func (r *treeReader) u32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }
func (r *treeReader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }
func (r *treeReader) i64() int64  { return int64(r.u64()) }

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	writeU64(buf, uint64(v))
}
