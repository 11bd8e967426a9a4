// Command ljdemo drives internal/fakevm through a small synthetic
// workload while memprof and/or sysprof are attached, writing their
// streams to files. It exists so the library can be exercised end to end
// without a real embedding VM, and it follows the teacher's signal-driven
// shutdown shape (os/signal.Notify plus a SIGTERM/SIGINT select) the way
// Itz-Agasta/nerrf's tracker command does.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/Itz-Agasta/ljprofile/internal/fakevm"
	"github.com/Itz-Agasta/ljprofile/pkg/memprof"
	"github.com/Itz-Agasta/ljprofile/pkg/sysprof"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
)

func main() {
	var (
		memprofPath string
		sysprofPath string
		sysprofMode string
		intervalMS  uint64
		duration    time.Duration
	)

	root := &cobra.Command{
		Use:   "ljdemo",
		Short: "Run a synthetic VM workload under memprof and/or sysprof",
		Long: `ljdemo drives a small in-memory fake VM through a synthetic allocation
and call workload, with memprof and/or sysprof attached, and writes their
streams to the given files. Useful for inspecting stream contents with
ljdump without a real embedding VM.

Examples:
  ljdemo --memprof out.mp
  ljdemo --sysprof out.sp --sysprof-mode leaf --duration 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(memprofPath, sysprofPath, sysprofMode, intervalMS, duration)
		},
	}

	root.Flags().StringVar(&memprofPath, "memprof", "", "write a memprof stream to this file")
	root.Flags().StringVar(&sysprofPath, "sysprof", "", "write a sysprof stream to this file")
	root.Flags().StringVar(&sysprofMode, "sysprof-mode", "leaf", "sysprof mode: default, leaf or callgraph")
	root.Flags().Uint64Var(&intervalMS, "interval-ms", 10, "sysprof sample interval in milliseconds")
	root.Flags().DurationVar(&duration, "duration", time.Second, "how long to run the workload")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(memprofPath, sysprofPath, sysprofMode string, intervalMS uint64, duration time.Duration) error {
	v := fakevm.New()

	if memprofPath != "" {
		f, err := os.Create(memprofPath)
		if err != nil {
			return fmt.Errorf("ljdemo: %w", err)
		}
		if err := memprof.Start(v, memprof.Options{
			Writer: f,
			OnStop: f.Close,
		}); err != nil {
			return fmt.Errorf("ljdemo: memprof start: %w", err)
		}
		slog.Info("memprof started", "path", memprofPath)
	}

	if sysprofPath != "" {
		mode, err := parseSysprofMode(sysprofMode)
		if err != nil {
			return fmt.Errorf("ljdemo: %w", err)
		}
		f, err := os.Create(sysprofPath)
		if err != nil {
			return fmt.Errorf("ljdemo: %w", err)
		}
		if err := sysprof.Start(v, sysprof.Options{
			Mode:       mode,
			IntervalMS: intervalMS,
			Writer:     f,
			OnStop:     f.Close,
		}); err != nil {
			return fmt.Errorf("ljdemo: sysprof start: %w", err)
		}
		slog.Info("sysprof started", "path", sysprofPath, "mode", sysprofMode)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, unix.SIGTERM)

	stop := make(chan struct{})
	go workload(v, intervalMS, stop)

	select {
	case <-time.After(duration):
	case <-sig:
		slog.Info("interrupted")
	}
	close(stop)

	if memprofPath != "" {
		if err := memprof.Stop(v); err != nil {
			return fmt.Errorf("ljdemo: memprof stop: %w", err)
		}
	}
	if sysprofPath != "" {
		if err := sysprof.Stop(v); err != nil {
			return fmt.Errorf("ljdemo: sysprof stop: %w", err)
		}
		c := sysprof.Report()
		slog.Info("sysprof report", "samples", c.Samples, "interp", c.VMSTInterp, "lfunc", c.VMSTLFunc)
	}
	return nil
}

func parseSysprofMode(s string) (sysprof.Mode, error) {
	switch s {
	case "default":
		return sysprof.Default, nil
	case "leaf":
		return sysprof.Leaf, nil
	case "callgraph":
		return sysprof.Callgraph, nil
	default:
		return 0, fmt.Errorf("unknown sysprof mode %q", s)
	}
}

// workload continuously allocates/frees through v and ticks sysprof at
// roughly intervalMS until stop is closed, alternating the VM's reported
// state so sysprof's counters end up partitioned across more than one
// bucket.
func workload(v *fakevm.VM, intervalMS uint64, stop <-chan struct{}) {
	proto := v.DefineProto("demo.lua", 1)
	v.PushFrame(vm.Frame{Fn: vm.Function{Kind: vm.FuncLua, Proto: &proto}, Line: 10, HasLine: true})

	states := []vm.State{vm.StateInterp, vm.StateLFunc, vm.StateCFunc, vm.StateGC}
	tick := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
	defer tick.Stop()

	i := 0
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			v.SetState(states[i%len(states)])
			i++

			addr := v.Alloc(0, 0, 64)
			v.Alloc(addr, 64, 0)
			sysprof.Tick(v)
		}
	}
}
