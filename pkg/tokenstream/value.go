package tokenstream

import "bytes"

// Kind discriminates the tagged Value variant described in spec.md §9:
// "Duck-typed value (bytes | list<bytes> | ordered-map). Replace with a
// tagged variant Value = Scalar(bytes) | Array(list<option<bytes>>) |
// Node(ordered-map<key, Value>); every consumer matches the variant
// explicitly."
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindNode
)

// ArrayElem is one chunk of an inline array (0x81..0xBF tokens), such as
// one record id under 0D. The cursor sets Present on every chunk it
// decodes.
type ArrayElem struct {
	Bytes   []byte
	Present bool
}

// Value is the tagged union every node-tree leaf or sub-node materializes
// to. Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Scalar []byte
	Array  []ArrayElem
	Node   *Node
}

// Entry is one child of a Node: either a path segment (when Value.Kind ==
// KindNode) or a field reference (when Value.Kind is a leaf), paired with
// its materialized Value. Node preserves Entries in the order tokens were
// closed, which for a well-formed fp5 file is ascending key order.
type Entry struct {
	Key   []byte
	Value Value
}

// Node is the ordered-map variant of Value: a record's field map, or any
// intermediate structural node such as a `03/02` type-code bucket.
type Node struct {
	entries []Entry
}

// Entries returns the node's children in emission order.
func (n *Node) Entries() []Entry {
	if n == nil {
		return nil
	}
	return n.entries
}

// Get performs a linear scan for the entry keyed by key. Node sizes in
// practice are small (a record's field count, or a repetition count), so
// a map index is not worth the extra bookkeeping.
func (n *Node) Get(key []byte) (Value, bool) {
	if n == nil {
		return Value{}, false
	}
	for _, e := range n.entries {
		if bytes.Equal(e.Key, key) {
			return e.Value, true
		}
	}
	return Value{}, false
}

func (n *Node) append(key []byte, v Value) {
	n.entries = append(n.entries, Entry{Key: append([]byte{}, key...), Value: v})
}
