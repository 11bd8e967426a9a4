// Command ljdump decodes a memprof or sysprof byte stream captured from a
// running VM and renders it as human-readable lines, in the spirit of
// ja7ad/consumption's cmd/consumption CLI: a single cobra root command
// reading flags, writing to stdout.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Itz-Agasta/ljprofile/internal/wire"
	"github.com/Itz-Agasta/ljprofile/pkg/decode"
)

func main() {
	var (
		kind      string
		callgraph bool
	)

	root := &cobra.Command{
		Use:   "ljdump <file>",
		Short: "Decode a memprof/sysprof stream into readable records",
		Long: `ljdump reads a byte stream produced by pkg/memprof or pkg/sysprof and
prints its decoded records, one per line.

Examples:
  ljdump --kind memprof capture.bin
  ljdump --kind sysprof --callgraph capture.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], kind, callgraph)
		},
	}

	root.Flags().StringVar(&kind, "kind", "memprof", "stream kind: memprof or sysprof")
	root.Flags().BoolVar(&callgraph, "callgraph", false, "decode a sysprof stream as CALLGRAPH records (ignored for memprof)")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(path, kind string, callgraph bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ljdump: %w", err)
	}
	defer f.Close()

	switch kind {
	case "memprof":
		stream, err := decode.DecodeMemprofStream(f)
		if err != nil {
			return fmt.Errorf("ljdump: %w", err)
		}
		printMemprof(stream)
	case "sysprof":
		stream, err := decode.DecodeSysprofStream(f, callgraph)
		if err != nil {
			return fmt.Errorf("ljdump: %w", err)
		}
		printSysprof(stream)
	default:
		return fmt.Errorf("ljdump: unknown --kind %q (want memprof or sysprof)", kind)
	}
	return nil
}

func printMemprof(stream decode.MemprofStream) {
	fmt.Printf("symtab: %d entries\n", len(stream.Preamble.Entries))
	for _, e := range stream.Preamble.Entries {
		fmt.Printf("  %s\n", formatSymEntry(e))
	}
	fmt.Printf("events: %d\n", len(stream.Events))
	for _, ev := range stream.Events {
		fmt.Printf("  %s\n", formatAllocEvent(ev))
	}
}

func printSysprof(stream decode.SysprofStream) {
	fmt.Printf("records: %d\n", len(stream.Records))
	for _, rec := range stream.Records {
		fmt.Printf("  state=%d sources=%d\n", rec.VMState, len(rec.Sources))
	}
}

func formatSymEntry(e decode.SymEntry) string {
	switch e.Kind {
	case wire.SymKindLFunc:
		return fmt.Sprintf("LFUNC proto=%d %s:%d", e.ProtoID, e.ChunkName, e.FirstLine)
	case wire.SymKindTrace:
		return fmt.Sprintf("TRACE #%d from proto=%d:%d", e.TraceNo, e.StartProtoID, e.StartLine)
	case wire.SymKindCFunc:
		return fmt.Sprintf("CFUNC %#x %s", e.Addr, e.Name)
	default:
		return "UNKNOWN"
	}
}

func formatAllocEvent(ev decode.AllocEvent) string {
	src := formatSource(ev.Source)
	switch ev.Kind {
	case wire.AEventSymtab:
		return fmt.Sprintf("SYMTAB %s", formatSymEntry(ev.Sym))
	case wire.AEventAlloc:
		return fmt.Sprintf("ALLOC  %s addr=%#x size=%d", src, ev.NewAddr, ev.NewSize)
	case wire.AEventFree:
		return fmt.Sprintf("FREE   %s addr=%#x size=%d", src, ev.OldAddr, ev.OldSize)
	case wire.AEventRealloc:
		return fmt.Sprintf("REALLOC %s old=%#x/%d new=%#x/%d", src, ev.OldAddr, ev.OldSize, ev.NewAddr, ev.NewSize)
	default:
		return "UNKNOWN"
	}
}

func formatSource(s decode.Source) string {
	switch s.Kind {
	case wire.ASourceLFunc:
		return fmt.Sprintf("LFUNC(proto=%d line=%d)", s.ProtoID, s.Line)
	case wire.ASourceCFunc:
		return fmt.Sprintf("CFUNC(%#x)", s.NativeAddr)
	case wire.ASourceTrace:
		return fmt.Sprintf("TRACE(#%d)", s.TraceNo)
	default:
		return "INT"
	}
}
