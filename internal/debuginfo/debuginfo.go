package debuginfo

// Record is one candidate frame for a module-relative address. Sources that
// expand inlined code yield several records, innermost first. Name is empty
// when the source has no name for the matched range.
type Record struct {
	Name  string
	Entry uint64 // function entry svma, 0 when the source doesn't know it
}

// Frames is a lazy sequence of candidate records for one query. Next returns
// (nil, nil) once the sequence is exhausted.
type Frames interface {
	Next() (*Record, error)
}

// Source answers function-name queries for module-relative addresses.
type Source interface {
	FindFrames(svma uint64) (Frames, error)
}

type emptyFrames struct{}

func (emptyFrames) Next() (*Record, error) { return nil, nil }

type singleFrames struct {
	rec  Record
	used bool
}

func (s *singleFrames) Next() (*Record, error) {
	if s.used {
		return nil, nil
	}
	s.used = true
	return &s.rec, nil
}
