package exporter

import "time"

// Frame is one resolved frame of a reported trace.
type Frame struct {
	Name string
	Addr uint64
}

// Report is one walked and resolved backtrace, stack in leaf-first order.
// Kind describes what triggered it (signal name, "request", ...).
type Report struct {
	Timestamp time.Time
	Kind      string
	Stack     []Frame
}
