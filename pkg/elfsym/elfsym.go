// Package elfsym implements the optional native symbol resolver (C3): for
// every loaded ELF object, walk its section-header symbol table (preferred)
// or its dynamic segment (fallback), emitting one CFUNC entry per function
// symbol found, or a single last-resort entry naming the object itself.
//
// Grounded directly on spec.md §4.3's algorithm — no pack example ships an
// ELF-walking component, so this is built against Go's debug/elf (standard
// library) rather than a third-party ELF library: no repo in the retrieval
// pack imports one. debug/elf supplies the section-header path and the
// header/program-header plumbing; the dynamic-segment fallback walks
// PT_DYNAMIC and the hash tables by hand; see DESIGN.md.
//
// Enabled only where dl_iterate_phdr's nearest Go equivalent exists: Linux,
// by reading /proc/self/maps. Other platforms get the no-op implementation
// in elfsym_other.go, matching spec.md's "isolated trait-like boundary"
// note — callers always get a (possibly empty) slice, never an error, for
// simply running on an unsupported platform.
package elfsym

import "github.com/Itz-Agasta/ljprofile/pkg/symtab"

// Resolve walks every loaded ELF object reachable from the current
// process's own memory map and returns one symtab.NativeSymbol per
// resolved function. All transient buffers (mapped section/segment bytes)
// are released before this returns, on every path including error.
func Resolve() ([]symtab.NativeSymbol, error) {
	return resolve()
}
