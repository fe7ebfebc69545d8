//go:build !linux

package store

// excludeFromCoreDump is a no-op on platforms without a MADV_DONTDUMP
// equivalent wired up here.
func excludeFromCoreDump(data []byte) {}
