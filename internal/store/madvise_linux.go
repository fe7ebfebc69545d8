//go:build linux

package store

import "golang.org/x/sys/unix"

// excludeFromCoreDump advises the kernel to omit the mapping from core
// dumps, matching the original's `#ifdef MADV_NOCORE` guard (BSD-only
// advice; Linux's equivalent is MADV_DONTDUMP). Best-effort: a failure here
// is not fatal to serving the grid.
func excludeFromCoreDump(data []byte) {
	unix.Madvise(data, unix.MADV_DONTDUMP)
}
