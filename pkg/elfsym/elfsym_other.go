//go:build !linux

package elfsym

import "github.com/Itz-Agasta/ljprofile/pkg/symtab"

// resolve is a no-op on platforms without a dl_iterate_phdr-equivalent way
// to enumerate loaded objects. Returns an empty, non-nil slice so callers
// can range over the result unconditionally.
func resolve() ([]symtab.NativeSymbol, error) {
	return []symtab.NativeSymbol{}, nil
}
