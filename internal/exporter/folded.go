package exporter

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// BuildFoldedStacks aggregates reports into collapsed-stack format keys,
// counting how many reports share each stack.
func BuildFoldedStacks(reports []Report) map[string]uint64 {
	agg := make(map[string]uint64)
	for _, r := range reports {
		if len(r.Stack) == 0 {
			continue
		}
		names := make([]string, 0, len(r.Stack))
		for i := len(r.Stack) - 1; i >= 0; i-- { // reverse order because flamegraphs expect root->leaf order
			names = append(names, escapeFoldedName(r.Stack[i].Name))
		}
		agg[strings.Join(names, ";")]++
	}
	return agg
}

func escapeFoldedName(name string) string {
	// semicolons separate frames and newlines separate lines. Replace them with safe characters.
	name = strings.ReplaceAll(name, ";", "_")  // frame separator in folded stacks format
	name = strings.ReplaceAll(name, "\n", " ") // line separator, duh
	name = strings.TrimSpace(name)
	if name == "" {
		return "<unknown>"
	}
	return name
}

func WriteFoldedStacksToFile(agg map[string]uint64, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	type kv struct {
		k string
		v uint64
	}
	var items []kv
	for k, v := range agg {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v == items[j].v {
			return items[i].k < items[j].k
		}
		return items[i].v > items[j].v
	})

	for _, it := range items {
		if _, err := fmt.Fprintf(f, "%s %d\n", it.k, it.v); err != nil {
			return err
		}
	}
	return nil
}
