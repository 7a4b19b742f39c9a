package modules

import (
	"errors"
	"testing"
)

func TestParseMapEntry(t *testing.T) {
	cases := []struct {
		line    string
		want    MapRegion
		wantErr bool
	}{
		{
			line: "55d4b2000000-55d4b2021000 r--p 00000000 08:01 131073 /usr/bin/myprog",
			want: MapRegion{Start: 0x55d4b2000000, End: 0x55d4b2021000, Perms: "r--p", Path: "/usr/bin/myprog"},
		},
		{
			line: "7f1234560000-7f1234570000 r-xp 00001000 08:01 42 /usr/lib/name with spaces.so",
			want: MapRegion{Start: 0x7f1234560000, End: 0x7f1234570000, Offset: 0x1000, Perms: "r-xp", Path: "/usr/lib/name with spaces.so"},
		},
		{
			line: "7ffc12340000-7ffc12360000 rw-p 00000000 00:00 0",
			want: MapRegion{Start: 0x7ffc12340000, End: 0x7ffc12360000, Perms: "rw-p"},
		},
		{line: "garbage", wantErr: true},
		{line: "xyz-abc r-xp 00000000 08:01 1 /bin/x", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseMapEntry(tc.line)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("line %q: expected error", tc.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("line %q: %v", tc.line, err)
		}
		if got != tc.want {
			t.Fatalf("line %q: got %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

func TestParseMaps_SkipsBadLines(t *testing.T) {
	regions := parseMaps([]string{
		"55d4b2000000-55d4b2021000 r-xp 00000000 08:01 131073 /usr/bin/myprog",
		"not a map line",
		"",
		"7ffc12340000-7ffc12360000 rw-p 00000000 00:00 0 [stack]",
	})
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
}

type fakeMaps struct {
	lines []string
	err   error
}

func (f *fakeMaps) ReadLines() ([]string, error) { return f.lines, f.err }

type fakeELF struct {
	infos map[string]ELFInfo
}

func (f *fakeELF) Info(path string) (ELFInfo, error) {
	info, ok := f.infos[path]
	if !ok {
		return ELFInfo{}, errors.New("no such image")
	}
	return info, nil
}

func TestEnumerator_GroupsMappingsPerImage(t *testing.T) {
	maps := &fakeMaps{lines: []string{
		"55d4b2000000-55d4b2001000 r--p 00000000 08:01 1 /usr/bin/myprog",
		"55d4b2001000-55d4b2011000 r-xp 00001000 08:01 1 /usr/bin/myprog",
		"55d4b2011000-55d4b2012000 rw-p 00011000 08:01 1 /usr/bin/myprog",
		"7f0000000000-7f0000001000 r-xp 00000000 08:01 2 /usr/lib/libfoo.so",
		"7ffc12340000-7ffc12360000 rw-p 00000000 00:00 0 [stack]",
		"7ffc12371000-7ffc12372000 r-xp 00000000 00:00 0 [vdso]",
	}}
	elfs := &fakeELF{infos: map[string]ELFInfo{
		"/usr/bin/myprog":    {MinVaddr: 0, TextStart: 0x1000, TextEnd: 0x11000},
		"/usr/lib/libfoo.so": {MinVaddr: 0x200, TextStart: 0x200, TextEnd: 0x800},
	}}

	mods, err := NewEnumeratorWithELF(maps, elfs).Modules()
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("got %d modules, want 2: %+v", len(mods), mods)
	}

	prog := mods[0]
	if prog.Path != "/usr/bin/myprog" || prog.Base != 0x55d4b2000000 {
		t.Fatalf("unexpected main module: %+v", prog)
	}
	if prog.TextStart != 0x1000 || prog.TextEnd != 0x11000 {
		t.Fatalf("unexpected text range: %+v", prog)
	}

	lib := mods[1]
	if lib.Base != 0x7f0000000000-0x200 {
		t.Fatalf("bias not derived from lowest PT_LOAD vaddr: %+v", lib)
	}
}

func TestEnumerator_SkipsUnreadableAndNonExec(t *testing.T) {
	maps := &fakeMaps{lines: []string{
		"55d4b2000000-55d4b2001000 r-xp 00000000 08:01 1 /usr/bin/gone",
		"7f0000000000-7f0000001000 r--p 00000000 08:01 2 /usr/lib/data.so",
	}}
	elfs := &fakeELF{infos: map[string]ELFInfo{
		"/usr/lib/data.so": {TextStart: 0x100, TextEnd: 0x200},
	}}

	mods, err := NewEnumeratorWithELF(maps, elfs).Modules()
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(mods) != 0 {
		t.Fatalf("got %d modules, want 0: %+v", len(mods), mods)
	}
}

func TestEnumerator_MapsReadFailure(t *testing.T) {
	maps := &fakeMaps{err: errors.New("boom")}
	if _, err := NewEnumeratorWithELF(maps, &fakeELF{}).Modules(); err == nil {
		t.Fatalf("expected error")
	}
}
