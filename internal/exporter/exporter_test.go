package exporter

import (
	"bytes"
	"compress/gzip"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"google.golang.org/protobuf/proto"
)

func findFuncByName(p *profile.Profile, name string) *profile.Function {
	for _, f := range p.Function {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func findLocByAddr(p *profile.Profile, addr uint64) *profile.Location {
	for _, l := range p.Location {
		if l.Address == addr {
			return l
		}
	}
	return nil
}

func TestBuildPprofProfile_Empty(t *testing.T) {
	p, err := BuildPprofProfile(nil)
	if err != nil {
		t.Fatalf("BuildPprofProfile returned error for empty slice: %v", err)
	}
	if len(p.Sample) != 0 {
		t.Fatalf("expected 0 samples, got %d", len(p.Sample))
	}
}

func TestBuildPprofProfile_SingleReport(t *testing.T) {
	now := time.Now()
	r := Report{
		Timestamp: now,
		Kind:      "SIGSEGV",
		Stack: []Frame{
			{Name: "compute_sum", Addr: 0x1000},
			{Name: "main", Addr: 0x2000},
		},
	}
	p, err := BuildPprofProfile([]Report{r})
	if err != nil {
		t.Fatalf("BuildPprofProfile error: %v", err)
	}

	if len(p.Sample) != 1 {
		t.Fatalf("expected 1 pprof sample, got %d", len(p.Sample))
	}
	s := p.Sample[0]
	if s.Value[0] != 1 {
		t.Fatalf("unexpected sample value: %d", s.Value[0])
	}
	if kind, ok := s.Label["report_kind"]; !ok || len(kind) == 0 || kind[0] != "SIGSEGV" {
		t.Fatalf("expected report_kind=SIGSEGV label, got %v", s.Label)
	}
	if len(s.Location) != 2 || s.Location[0].Address != 0x1000 {
		t.Fatalf("stack must stay leaf-first: %+v", s.Location)
	}

	if findFuncByName(p, "compute_sum") == nil || findFuncByName(p, "main") == nil {
		t.Fatalf("functions missing from profile")
	}
	loc := findLocByAddr(p, 0x1000)
	if loc == nil || len(loc.Line) == 0 || loc.Line[0].Function.Name != "compute_sum" {
		t.Fatalf("location for 0x1000 does not reference compute_sum")
	}

	if p.TimeNanos != now.UnixNano() {
		t.Fatalf("unexpected TimeNanos: got %d want %d", p.TimeNanos, now.UnixNano())
	}
	if p.DurationNanos != 0 {
		t.Fatalf("expected DurationNanos 0 for single report, got %d", p.DurationNanos)
	}
}

func TestBuildPprofProfile_DeduplicatesLocations(t *testing.T) {
	now := time.Now()
	stack := []Frame{{Name: "f", Addr: 0x10}}
	p, err := BuildPprofProfile([]Report{
		{Timestamp: now, Stack: stack},
		{Timestamp: now.Add(time.Second), Stack: stack},
	})
	if err != nil {
		t.Fatalf("BuildPprofProfile error: %v", err)
	}
	if len(p.Sample) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(p.Sample))
	}
	if len(p.Location) != 1 || len(p.Function) != 1 {
		t.Fatalf("locations/functions not deduplicated: %d/%d", len(p.Location), len(p.Function))
	}
	if p.DurationNanos != time.Second.Nanoseconds() {
		t.Fatalf("unexpected DurationNanos: %d", p.DurationNanos)
	}
}

func TestWriteProfileGzip(t *testing.T) {
	p, err := BuildPprofProfile([]Report{
		{Timestamp: time.Now(), Stack: []Frame{{Name: "f", Addr: 0x10}}},
	})
	if err != nil {
		t.Fatalf("BuildPprofProfile error: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteProfileGzip(p, &buf); err != nil {
		t.Fatalf("WriteProfileGzip: %v", err)
	}
	gr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("output is not gzip: %v", err)
	}
	if _, err := profile.Parse(gr); err != nil {
		t.Fatalf("round-trip parse failed: %v", err)
	}
}

func TestBuildOtlpProfile(t *testing.T) {
	ts := time.Unix(10, 123456789)
	reports := []Report{
		{
			Timestamp: ts,
			Kind:      "SIGABRT",
			Stack: []Frame{
				{Name: "foo", Addr: 0x1000},
				{Name: "bar", Addr: 0x1100},
			},
		},
		{Timestamp: ts}, // empty stack, skipped
	}

	got := BuildOtlpProfile(reports, func() uint64 { return 9999999999 })

	if len(got.ResourceProfiles) != 1 {
		t.Fatalf("expected 1 resource profile")
	}
	scope := got.ResourceProfiles[0].ScopeProfiles[0]
	if scope.Scope.Name != "crashtrace" {
		t.Fatalf("unexpected scope name %q", scope.Scope.Name)
	}
	prof := scope.Profiles[0]
	if prof.TimeUnixNano != 9999999999 {
		t.Fatalf("unexpected TimeUnixNano: %d", prof.TimeUnixNano)
	}
	if len(prof.Samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(prof.Samples))
	}
	s := prof.Samples[0]
	if s.Values[0] != 1 {
		t.Fatalf("unexpected sample value %d", s.Values[0])
	}
	if s.TimestampsUnixNano[0] != uint64(ts.UnixNano()) {
		t.Fatalf("unexpected sample timestamp")
	}

	dict := got.Dictionary
	stack := dict.StackTable[s.StackIndex]
	if len(stack.LocationIndices) != 2 {
		t.Fatalf("expected 2 locations in stack, got %d", len(stack.LocationIndices))
	}
	leaf := dict.LocationTable[stack.LocationIndices[0]]
	if leaf.Address != 0x1000 {
		t.Fatalf("leaf location address %#x, want 0x1000", leaf.Address)
	}
	leafFn := dict.FunctionTable[leaf.Lines[0].FunctionIndex]
	if dict.StringTable[leafFn.NameStrindex] != "foo" {
		t.Fatalf("leaf function name %q, want foo", dict.StringTable[leafFn.NameStrindex])
	}

	if _, err := proto.Marshal(got); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}

func TestBuildFoldedStacks_AggregationAndOrder(t *testing.T) {
	now := time.Now()
	stack := []Frame{
		{Name: "A", Addr: 0x100},
		{Name: "B", Addr: 0x200},
	}
	agg := BuildFoldedStacks([]Report{
		{Timestamp: now, Stack: stack},
		{Timestamp: now.Add(time.Millisecond), Stack: stack},
	})
	if len(agg) != 1 {
		t.Fatalf("expected 1 aggregated entry, got %d", len(agg))
	}
	if agg["B;A"] != 2 {
		t.Fatalf("unexpected aggregation: %v (want B;A -> 2)", agg)
	}
}

func TestBuildFoldedStacks_Escaping(t *testing.T) {
	agg := BuildFoldedStacks([]Report{
		{Timestamp: time.Now(), Stack: []Frame{
			{Name: "Leaf;Name", Addr: 0x10},
			{Name: "Root\nName", Addr: 0x20},
			{Name: "", Addr: 0x30},
		}},
	})
	if len(agg) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(agg))
	}
	for k := range agg {
		if k != "<unknown>;Root Name;Leaf_Name" {
			t.Fatalf("unexpected folded key %q", k)
		}
	}
}
