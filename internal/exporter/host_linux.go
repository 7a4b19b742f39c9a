package exporter

import (
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	"golang.org/x/sys/unix"
)

// hostAttributes tags exported reports with where they were captured.
func hostAttributes() []*v1.KeyValue {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return nil
	}
	kv := func(k, val string) *v1.KeyValue {
		return &v1.KeyValue{
			Key:   k,
			Value: &v1.AnyValue{Value: &v1.AnyValue_StringValue{StringValue: val}},
		}
	}
	return []*v1.KeyValue{
		kv("host.name", unix.ByteSliceToString(u.Nodename[:])),
		kv("host.arch", unix.ByteSliceToString(u.Machine[:])),
		kv("os.type", unix.ByteSliceToString(u.Sysname[:])),
		kv("os.version", unix.ByteSliceToString(u.Release[:])),
	}
}
