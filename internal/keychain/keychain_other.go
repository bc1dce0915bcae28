//go:build !darwin

package keychain

// NewSystemStore returns an in-memory store when there is no Keychain to talk
// to. Nothing written through it outlives the process.
func NewSystemStore() *MemoryStore {
	return NewMemoryStore()
}
