//go:build linux

package elfsym

import (
	"bufio"
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Itz-Agasta/ljprofile/pkg/symtab"
)

// resolve enumerates every distinct, executable-mapped file backing the
// current process's address space (read from /proc/self/maps, the closest
// Linux equivalent to dl_iterate_phdr available without cgo) and resolves
// each one's function symbols.
func resolve() ([]symtab.NativeSymbol, error) {
	mappings, err := readExecMappings("/proc/self/maps")
	if err != nil {
		return nil, err
	}

	var out []symtab.NativeSymbol
	for _, m := range mappings {
		syms, err := resolveObject(m)
		if err != nil {
			// One unreadable/malformed object (e.g. a file deleted out
			// from under a still-mapped library) must not
			// sink the whole walk; fall through to the last-resort entry.
			out = append(out, symtab.NativeSymbol{Addr: m.base, Name: m.path})
			continue
		}
		out = append(out, syms...)
	}
	return out, nil
}

// mapping is one distinct file-backed, executable region of this process's
// address space, reduced to what resolveObject needs: the file's path and
// its load bias (spec.md's "dlpi_addr").
type mapping struct {
	path string
	base uint64 // load bias: runtime address of file offset 0
}

func readExecMappings(path string) ([]mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	baseByPath := make(map[string]uint64)
	offByPath := make(map[string]uint64)
	var result []mapping

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		addrRange := fields[0]
		perms := fields[1]
		offsetHex := fields[2]
		name := fields[5]

		if name == "" || name[0] == '[' {
			continue // anonymous, stack, vDSO, vvar, heap, etc.
		}
		if !strings.Contains(perms, "x") {
			continue
		}

		parts := strings.SplitN(addrRange, "-", 2)
		if len(parts) != 2 {
			continue
		}
		start, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(offsetHex, 16, 64)
		if err != nil {
			continue
		}

		// The load bias is constant for every segment of the same file;
		// derive it from the mapping with the smallest file offset (the
		// mapping nearest file offset 0 is the most reliable anchor for
		// non-PIE executables, where offset is already 0 at the text
		// segment).
		base := start - offset
		if prevOff, ok := offByPath[name]; !ok || offset < prevOff {
			offByPath[name] = offset
			baseByPath[name] = base
		}

		if !seen[name] {
			seen[name] = true
			result = append(result, mapping{path: name})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		result[i].base = baseByPath[result[i].path]
	}
	return result, nil
}

// resolveObject implements spec.md §4.3's three-step resolution order for
// one loaded object.
func resolveObject(m mapping) ([]symtab.NativeSymbol, error) {
	f, err := elf.Open(m.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if syms, err := sectionHeaderSymbols(f, m.base); err == nil && len(syms) > 0 {
		return syms, nil
	}
	if syms, err := dynamicSegmentSymbols(f, m.base); err == nil && len(syms) > 0 {
		return syms, nil
	}
	return []symtab.NativeSymbol{{Addr: m.base, Name: m.path}}, nil
}

// sectionHeaderSymbols is the preferred path: SHT_SYMTAB plus its linked
// SHT_STRTAB, both read fully by (*elf.File).Symbols.
func sectionHeaderSymbols(f *elf.File, base uint64) ([]symtab.NativeSymbol, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}
	return filterFuncSymbols(syms, base), nil
}

func filterFuncSymbols(syms []elf.Symbol, base uint64) []symtab.NativeSymbol {
	out := make([]symtab.NativeSymbol, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		out = append(out, symtab.NativeSymbol{Addr: base + s.Value, Name: s.Name})
	}
	return out
}

// dynamicSegmentSymbols is the fallback path, used when an object has no
// section headers at all (fully stripped): locate PT_DYNAMIC, read
// DT_SYMTAB/DT_STRTAB, and compute the symbol count from DT_HASH or
// DT_GNU_HASH rather than relying on any section's sh_size.
func dynamicSegmentSymbols(f *elf.File, base uint64) ([]symtab.NativeSymbol, error) {
	dyn := findDynamicProg(f)
	if dyn == nil {
		return nil, fmt.Errorf("elfsym: no PT_DYNAMIC segment")
	}
	raw, err := io.ReadAll(dyn.Open())
	if err != nil {
		return nil, err
	}

	tags, err := parseDynamicTags(f, raw)
	if err != nil {
		return nil, err
	}

	symtabAddr, ok := tags[dtSymtab]
	if !ok {
		return nil, fmt.Errorf("elfsym: no DT_SYMTAB")
	}
	strtabAddr, ok := tags[dtStrtab]
	if !ok {
		return nil, fmt.Errorf("elfsym: no DT_STRTAB")
	}

	count, err := symbolCount(f, tags)
	if err != nil {
		return nil, err
	}

	symEntSize := uint64(16)
	if f.Class == elf.ELFCLASS64 {
		symEntSize = 24
	}

	symBytes, err := readVaddr(f, symtabAddr, count*symEntSize)
	if err != nil {
		return nil, err
	}

	var out []symtab.NativeSymbol
	order := f.ByteOrder
	for i := uint64(0); i < count; i++ {
		ent := symBytes[i*symEntSize : (i+1)*symEntSize]
		var nameIdx uint32
		var value uint64
		var info byte
		if f.Class == elf.ELFCLASS64 {
			nameIdx = order.Uint32(ent[0:4])
			info = ent[4]
			value = order.Uint64(ent[8:16])
		} else {
			nameIdx = order.Uint32(ent[0:4])
			value = uint64(order.Uint32(ent[4:8]))
			info = ent[12]
		}
		if nameIdx == 0 || elf.ST_TYPE(info) != elf.STT_FUNC {
			continue
		}
		name, err := readCString(f, strtabAddr+uint64(nameIdx))
		if err != nil || name == "" {
			continue
		}
		out = append(out, symtab.NativeSymbol{Addr: base + value, Name: name})
	}
	return out, nil
}

func findDynamicProg(f *elf.File) *elf.Prog {
	for _, p := range f.Progs {
		if p.Type == elf.PT_DYNAMIC {
			return p
		}
	}
	return nil
}

const (
	dtNull     = 0
	dtHash     = 4
	dtStrtab   = 5
	dtSymtab   = 6
	dtGNUHash  = 0x6ffffef5
)

// parseDynamicTags decodes the PT_DYNAMIC segment's Elf32_Dyn/Elf64_Dyn
// array into a tag -> value map, stopping at DT_NULL.
func parseDynamicTags(f *elf.File, raw []byte) (map[int64]uint64, error) {
	tags := make(map[int64]uint64)
	order := f.ByteOrder
	entSize := 8
	if f.Class == elf.ELFCLASS64 {
		entSize = 16
	}
	for off := 0; off+entSize <= len(raw); off += entSize {
		var tag int64
		var val uint64
		if f.Class == elf.ELFCLASS64 {
			tag = int64(order.Uint64(raw[off : off+8]))
			val = order.Uint64(raw[off+8 : off+16])
		} else {
			tag = int64(int32(order.Uint32(raw[off : off+4])))
			val = uint64(order.Uint32(raw[off+4 : off+8]))
		}
		if tag == dtNull {
			break
		}
		tags[tag] = val
	}
	return tags, nil
}

// symbolCount computes the dynamic symbol table length without a section
// header, per spec.md §4.3's fallback step: prefer DT_GNU_HASH (scan
// buckets for the highest chain start, then follow that chain to its
// terminator bit), else DT_HASH (whose header directly states nchain).
func symbolCount(f *elf.File, tags map[int64]uint64) (uint64, error) {
	if addr, ok := tags[dtGNUHash]; ok {
		return gnuHashSymbolCount(f, addr)
	}
	if addr, ok := tags[dtHash]; ok {
		return sysvHashSymbolCount(f, addr)
	}
	return 0, fmt.Errorf("elfsym: no DT_HASH or DT_GNU_HASH")
}

func sysvHashSymbolCount(f *elf.File, addr uint64) (uint64, error) {
	hdr, err := readVaddr(f, addr, 8)
	if err != nil {
		return 0, err
	}
	nchain := f.ByteOrder.Uint32(hdr[4:8])
	return uint64(nchain), nil
}

func gnuHashSymbolCount(f *elf.File, addr uint64) (uint64, error) {
	hdr, err := readVaddr(f, addr, 16)
	if err != nil {
		return 0, err
	}
	order := f.ByteOrder
	nbuckets := order.Uint32(hdr[0:4])
	symoffset := order.Uint32(hdr[4:8])
	bloomSize := order.Uint32(hdr[8:12])

	addrSize := uint64(4)
	if f.Class == elf.ELFCLASS64 {
		addrSize = 8
	}
	bucketsOff := addr + 16 + uint64(bloomSize)*addrSize
	buckets, err := readVaddr(f, bucketsOff, uint64(nbuckets)*4)
	if err != nil {
		return 0, err
	}

	var maxSym uint32
	for i := uint32(0); i < nbuckets; i++ {
		b := order.Uint32(buckets[i*4 : i*4+4])
		if b > maxSym {
			maxSym = b
		}
	}
	if maxSym < symoffset {
		// Every bucket is empty; the table holds exactly the symbols
		// before symoffset (locals with no hash entries).
		return uint64(symoffset), nil
	}

	chainOff := bucketsOff + uint64(nbuckets)*4
	idx := maxSym
	for {
		word, err := readVaddr(f, chainOff+uint64(idx-symoffset)*4, 4)
		if err != nil {
			return 0, err
		}
		v := order.Uint32(word)
		idx++
		if v&1 != 0 { // terminator bit set: last entry of its chain
			break
		}
	}
	return uint64(idx), nil
}

// readVaddr translates a runtime virtual address to a file offset via the
// PT_LOAD segment covering it, then reads n bytes from that offset.
func readVaddr(f *elf.File, vaddr, n uint64) ([]byte, error) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if vaddr < p.Vaddr || vaddr >= p.Vaddr+p.Filesz {
			continue
		}
		r := io.NewSectionReader(p.Open().(io.ReaderAt), int64(vaddr-p.Vaddr), int64(n))
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, fmt.Errorf("elfsym: vaddr %#x not covered by any PT_LOAD segment", vaddr)
}

func readCString(f *elf.File, vaddr uint64) (string, error) {
	const chunk = 256
	buf, err := readVaddr(f, vaddr, chunk)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf), nil
}

