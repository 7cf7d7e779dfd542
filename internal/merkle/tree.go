// internal/merkle/tree.go
package merkle

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"media-vault/internal/collation"
)

// HashedItem is one file's identity as the tree sees it.
type HashedItem struct {
	Name         string
	Hash         []byte // SHA-256 of file contents
	Length       int64
	LastModified time.Time
}

// SortNode is a node of the working tree. A leaf carries a file's name
// and content hash; an internal node carries children plus aggregates:
// hash = SHA256(left.hash || right.hash), size and nodeCount are the
// subtree sums.
type SortNode struct {
	Hash      []byte
	Size      int64
	NodeCount int64

	// Leaf fields.
	Name         string
	ContentHash  []byte
	LastModified time.Time

	// Internal fields.
	Left  *SortNode
	Right *SortNode

	// Greatest leaf name in the subtree, cached for descent.
	maxName string
}

func (n *SortNode) IsLeaf() bool { return n.Left == nil }

// MerkleNode is the compact persisted projection of a SortNode: same
// aggregates, no leaf payload.
type MerkleNode struct {
	Hash      []byte
	Size      int64
	NodeCount int64
	Left      *MerkleNode
	Right     *MerkleNode
}

// Metadata travels alongside the tree. The root hash is not stored
// here; it is the top node's hash.
type Metadata struct {
	ID            uuid.UUID `json:"id"`
	FilesImported uint64    `json:"filesImported"`
	TotalFiles    uint64    `json:"totalFiles"`
	TotalSize     uint64    `json:"totalSize"`
}

// Tree is the engine's working tree plus its persisted merkle
// projection. Dirty signals the two may disagree until the projection
// is rebuilt.
type Tree struct {
	Root   *SortNode
	Meta   Metadata
	Merkle *MerkleNode
	Dirty  bool
}

func NewTree(id uuid.UUID) *Tree {
	return &Tree{Meta: Metadata{ID: id}}
}

// RootHash returns the aggregate hash over every leaf, nil for an empty
// tree.
func (t *Tree) RootHash() []byte {
	if t.Root == nil {
		return nil
	}
	return t.Root.Hash
}

func newLeaf(item HashedItem) *SortNode {
	return &SortNode{
		Hash:         item.Hash,
		Size:         item.Length,
		NodeCount:    1,
		Name:         item.Name,
		ContentHash:  item.Hash,
		LastModified: item.LastModified,
		maxName:      item.Name,
	}
}

// AddItem inserts a new leaf; an existing entry with the same name is
// an error.
func (t *Tree) AddItem(item HashedItem) error {
	root, err := insertNode(t.Root, newLeaf(item))
	if err != nil {
		return err
	}
	t.Root = root
	t.Dirty = true
	t.refreshMeta()
	return nil
}

// UpdateItem replaces the content hash, size and timestamp of the named
// leaf and propagates aggregates up the path. The tree shape never
// changes on update. Returns false when the name is absent.
func (t *Tree) UpdateItem(item HashedItem) bool {
	if t.Root == nil {
		return false
	}
	if !updateNode(t.Root, item) {
		return false
	}
	t.Dirty = true
	t.refreshMeta()
	return true
}

// UpsertItem adds the leaf if absent, else updates it.
func (t *Tree) UpsertItem(item HashedItem) error {
	if t.UpdateItem(item) {
		return nil
	}
	return t.AddItem(item)
}

// FindItemNode descends by name. O(log n): each internal node knows the
// greatest name in its left subtree.
func (t *Tree) FindItemNode(name string) *SortNode {
	n := t.Root
	for n != nil && !n.IsLeaf() {
		if collation.Compare(name, n.Left.maxName) <= 0 {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	if n != nil && n.Name == name {
		return n
	}
	return nil
}

// Visitor receives each leaf in order; returning false stops the walk.
type Visitor func(ctx context.Context, leaf *SortNode) (bool, error)

// TraverseTree walks leaves in name order.
func TraverseTree(ctx context.Context, root *SortNode, visit Visitor) error {
	_, err := traverse(ctx, root, visit)
	return err
}

func traverse(ctx context.Context, n *SortNode, visit Visitor) (bool, error) {
	if n == nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if n.IsLeaf() {
		return visit(ctx, n)
	}
	cont, err := traverse(ctx, n.Left, visit)
	if err != nil || !cont {
		return cont, err
	}
	return traverse(ctx, n.Right, visit)
}

// BuildMerkleTree projects the working tree into its compact persisted
// form and clears the dirty flag.
func (t *Tree) BuildMerkleTree() *MerkleNode {
	t.Merkle = project(t.Root)
	t.Dirty = false
	return t.Merkle
}

func project(n *SortNode) *MerkleNode {
	if n == nil {
		return nil
	}
	return &MerkleNode{
		Hash:      n.Hash,
		Size:      n.Size,
		NodeCount: n.NodeCount,
		Left:      project(n.Left),
		Right:     project(n.Right),
	}
}

func (t *Tree) refreshMeta() {
	if t.Root == nil {
		t.Meta.TotalFiles, t.Meta.TotalSize = 0, 0
		return
	}
	t.Meta.TotalFiles = uint64(t.Root.NodeCount)
	t.Meta.TotalSize = uint64(t.Root.Size)
}

// insertNode places the leaf at its in-order position: descend by
// name, split the target leaf into an internal node with name-ordered
// children, then restore the weight balance on the way out. Every
// internal node keeps left.nodeCount == right.nodeCount or
// right.nodeCount + 1, which makes the shape canonical for a given
// leaf set: two trees over the same files hash identically no matter
// the insertion order.
func insertNode(n, leaf *SortNode) (*SortNode, error) {
	if n == nil {
		return leaf, nil
	}
	if n.IsLeaf() {
		c := collation.Compare(leaf.Name, n.Name)
		if c == 0 {
			return nil, fmt.Errorf("item %q already exists", leaf.Name)
		}
		parent := &SortNode{Left: n, Right: leaf}
		if c < 0 {
			parent.Left, parent.Right = leaf, n
		}
		recompute(parent)
		return parent, nil
	}
	if collation.Compare(leaf.Name, n.Left.maxName) <= 0 {
		child, err := insertNode(n.Left, leaf)
		if err != nil {
			return nil, err
		}
		n.Left = child
	} else {
		child, err := insertNode(n.Right, leaf)
		if err != nil {
			return nil, err
		}
		n.Right = child
	}
	balance(n)
	recompute(n)
	return n, nil
}

// balance shifts boundary leaves between siblings until the node is
// weight-balanced again. A single insert or removal leaves a node off
// by at most one, so each loop moves at most one leaf.
func balance(n *SortNode) {
	for n.Left.NodeCount > n.Right.NodeCount+1 {
		rest, moved := removeMax(n.Left)
		n.Left = rest
		right, _ := insertNode(n.Right, moved)
		n.Right = right
	}
	for n.Right.NodeCount > n.Left.NodeCount {
		rest, moved := removeMin(n.Right)
		n.Right = rest
		left, _ := insertNode(n.Left, moved)
		n.Left = left
	}
}

// removeMin detaches the smallest leaf; the remaining subtree is
// rebalanced. A leaf node collapses to nil.
func removeMin(n *SortNode) (*SortNode, *SortNode) {
	if n.IsLeaf() {
		return nil, n
	}
	rest, leaf := removeMin(n.Left)
	if rest == nil {
		return n.Right, leaf
	}
	n.Left = rest
	balance(n)
	recompute(n)
	return n, leaf
}

// removeMax detaches the greatest leaf.
func removeMax(n *SortNode) (*SortNode, *SortNode) {
	if n.IsLeaf() {
		return nil, n
	}
	rest, leaf := removeMax(n.Right)
	if rest == nil {
		return n.Left, leaf
	}
	n.Right = rest
	balance(n)
	recompute(n)
	return n, leaf
}

func updateNode(n *SortNode, item HashedItem) bool {
	if n.IsLeaf() {
		if n.Name != item.Name {
			return false
		}
		n.Hash = item.Hash
		n.ContentHash = item.Hash
		n.Size = item.Length
		n.LastModified = item.LastModified
		return true
	}
	var ok bool
	if collation.Compare(item.Name, n.Left.maxName) <= 0 {
		ok = updateNode(n.Left, item)
	} else {
		ok = updateNode(n.Right, item)
	}
	if ok {
		recompute(n)
	}
	return ok
}

func recompute(n *SortNode) {
	l, r := n.Left, n.Right
	n.NodeCount = l.NodeCount + r.NodeCount
	n.Size = l.Size + r.Size
	h := sha256.New()
	h.Write(l.Hash)
	h.Write(r.Hash)
	n.Hash = h.Sum(nil)
	n.maxName = r.maxName
	n.Name = ""
	n.ContentHash = nil
}
