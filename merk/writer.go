package merk

// NodeWriter persists a single committed node's encoded bytes under its
// storage key, and marks a node's storage key for removal. Supplied by
// the storage-context adapter layer (spec.md §4.3.5 "writing nodes...";
// §6.2 "main[prefix‖node_key] -> encoded Merk node bytes").
type NodeWriter interface {
	WriteNode(key []byte, encoded []byte) error
	DeleteNode(key []byte) error
}
