package exporter

import (
	"compress/gzip"
	"io"
	"sort"

	"github.com/google/pprof/profile"
)

// BuildPprofProfile renders resolved backtrace reports as a pprof profile,
// one sample of value 1 per report.
func BuildPprofProfile(reports []Report) (*profile.Profile, error) {
	if len(reports) == 0 {
		return &profile.Profile{}, nil
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "reports", Unit: "count"}},
	}

	funcs := map[string]*profile.Function{}
	locMap := map[uint64]*profile.Location{}
	nextFuncID := uint64(1)
	nextLocID := uint64(1)

	addFunction := func(name string) *profile.Function {
		if f, ok := funcs[name]; ok {
			return f
		}
		fn := &profile.Function{
			ID:   nextFuncID,
			Name: name,
		}
		nextFuncID++
		funcs[name] = fn
		p.Function = append(p.Function, fn)
		return fn
	}

	addLocationFor := func(f Frame) *profile.Location {
		if loc, ok := locMap[f.Addr]; ok {
			return loc
		}
		fn := addFunction(f.Name)
		loc := &profile.Location{
			ID:      nextLocID,
			Address: f.Addr,
			Line:    []profile.Line{{Function: fn, Line: 0}},
		}
		nextLocID++
		locMap[f.Addr] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	for _, r := range reports {
		if len(r.Stack) == 0 {
			continue
		}
		// pprof assumes stacks are in leaf-to-root order, which Stack already is
		locs := make([]*profile.Location, 0, len(r.Stack))
		for _, f := range r.Stack {
			locs = append(locs, addLocationFor(f))
		}

		s := &profile.Sample{
			Value:    []int64{1},
			Location: locs,
			Label:    map[string][]string{},
			NumLabel: map[string][]int64{},
		}
		if r.Kind != "" {
			s.Label["report_kind"] = []string{r.Kind}
		}
		p.Sample = append(p.Sample, s)
	}

	// start/duration from the first and last report timestamps
	sorted := make([]Report, len(reports))
	copy(sorted, reports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	start := sorted[0].Timestamp
	end := sorted[len(sorted)-1].Timestamp
	p.TimeNanos = start.UnixNano()
	p.DurationNanos = end.Sub(start).Nanoseconds()

	// sort for deterministic output
	sort.Slice(p.Function, func(i, j int) bool { return p.Function[i].ID < p.Function[j].ID })
	sort.Slice(p.Location, func(i, j int) bool { return p.Location[i].ID < p.Location[j].ID })

	return p, nil
}

func WriteProfileGzip(p *profile.Profile, w io.Writer) error {
	gw := gzip.NewWriter(w)
	defer gw.Close()
	return p.Write(gw)
}
