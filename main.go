package main

import (
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/VladMinzatu/crashtrace/internal/backtrace"
	"github.com/VladMinzatu/crashtrace/internal/exporter"
	"github.com/VladMinzatu/crashtrace/internal/kallsyms"
	"github.com/VladMinzatu/crashtrace/internal/unwind"
)

func main() {
	reports := []exporter.Report{
		reportCaller(),
		snapshotReport(),
	}
	annotateKernelFrames(reports, func() (*kallsyms.Resolver, error) {
		return kallsyms.NewResolver(kallsyms.NewFSLoader())
	})
	for _, r := range reports {
		for _, f := range r.Stack {
			slog.Info("frame", "kind", r.Kind, "name", f.Name, "addr", f.Addr)
		}
	}

	prof, err := exporter.BuildPprofProfile(reports)
	if err != nil {
		slog.Error("Failed to build pprof profile from reports", "error", err)
		os.Exit(1)
	}
	f, err := os.Create("backtraces.pb.gz")
	if err != nil {
		slog.Error("Failed to create output file", "error", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := exporter.WriteProfileGzip(prof, f); err != nil {
		slog.Error("Failed to write pprof profile", "error", err)
		os.Exit(1)
	}

	if err := exporter.WriteFoldedStacksToFile(exporter.BuildFoldedStacks(reports), "backtraces.folded"); err != nil {
		slog.Error("Failed to write folded stacks", "error", err)
		os.Exit(1)
	}

	otlp := exporter.BuildOtlpProfile(reports, func() uint64 { return uint64(time.Now().UnixNano()) })
	raw, err := exporter.MarshalOtlpProfile(otlp)
	if err != nil {
		slog.Error("Failed to marshal OTLP profile", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile("backtraces.otlp.pb", raw, 0o644); err != nil {
		slog.Error("Failed to write OTLP profile", "error", err)
		os.Exit(1)
	}
}

// x86-64 kernel half; user-space return addresses never land here.
const kernelAddrFloor = uint64(0xffff800000000000)

// annotateKernelFrames folds kernel-range frame addresses through the
// kallsyms resolver, which is loaded only when a report actually carries one.
// Best-effort: kptr_restrict may hide the table entirely.
func annotateKernelFrames(reports []exporter.Report, load func() (*kallsyms.Resolver, error)) {
	var kr *kallsyms.Resolver
	for i := range reports {
		for j, f := range reports[i].Stack {
			if f.Addr < kernelAddrFloor {
				continue
			}
			if kr == nil {
				r, err := load()
				if err != nil {
					slog.Warn("Kernel symbols unavailable", "error", err)
					return
				}
				kr = r
			}
			if sym, err := kr.Resolve(f.Addr); err == nil {
				reports[i].Stack[j].Name = sym.Name
			}
		}
	}
}

// reportCaller symbolizes this goroutine's own call chain through the
// process-wide module registry.
//
//go:noinline
func reportCaller() exporter.Report {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(1, pcs)

	stack := make([]exporter.Frame, 0, n)
	for _, pc := range pcs[:n] {
		backtrace.FrameAt(uint64(pc)).ResolveSymbol(func(s backtrace.Symbol) {
			addr, _ := s.Addr()
			stack = append(stack, exporter.Frame{Name: string(s.Name()), Addr: addr})
		})
	}
	return exporter.Report{Timestamp: time.Now(), Kind: "request", Stack: stack}
}

// snapshotReport drives the full walk path over a captured stack image: the
// frame-pointer chain is laid out the way a real stack holds it, and the
// registers travel through a synthetic ucontext.
func snapshotReport() exporter.Report {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(1, pcs)

	// pcs[0] travels as the instruction pointer; pcs[1:] become the return
	// addresses held by the frame-pointer chain
	const base = uint64(0x7f0000000000)
	rets := pcs[1:n]
	words := make([]uint64, 2*len(rets))
	for i, pc := range rets {
		next := base + uint64(2*(i+1))*8
		if i == len(rets)-1 {
			next = 0
		}
		words[2*i] = next
		words[2*i+1] = uint64(pc)
	}
	img := &unwind.StackImage{Base: base, Words: words}
	fp := base
	if len(rets) == 0 {
		fp = 0
	}
	ctx := backtrace.NewSyntheticContext(uint64(pcs[0]), base, fp)

	var stack []exporter.Frame
	backtrace.NewTraceWithStack(img).Trace(ctx, func(fr backtrace.Frame) bool {
		fr.ResolveSymbol(func(s backtrace.Symbol) {
			addr, _ := s.Addr()
			stack = append(stack, exporter.Frame{Name: string(s.Name()), Addr: addr})
		})
		return true
	})
	return exporter.Report{Timestamp: time.Now(), Kind: "snapshot", Stack: stack}
}
