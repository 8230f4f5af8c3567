// Package cursor persists the indexer watermark: the last block whose logs
// were fully journaled.
package cursor

// Cursor stores one watermark per key.
type Cursor interface {
	// Load returns the saved block for key. ok is false when nothing
	// has been saved yet.
	Load(key string) (block uint64, ok bool, err error)

	// Save persists block for key.
	Save(key string, block uint64) error
}
