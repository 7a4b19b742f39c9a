package exporter

import (
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"
)

type NowFunc func() uint64 // produces unix nsec

// BuildOtlpProfile renders resolved backtrace reports in the OTLP profiles
// format, one sample of value 1 per report.
func BuildOtlpProfile(reports []Report, now NowFunc) *profilespb.ProfilesData {
	nowNsec := now()
	stringTable := []string{""}
	mappingTable := []*profilespb.Mapping{{}}
	locationTable := []*profilespb.Location{{}}
	functionTable := []*profilespb.Function{{}}
	stackTable := []*profilespb.Stack{{}}

	defaultMappingIdx := 0
	samples := make([]*profilespb.Sample, 0, len(reports))

	sampleType := &profilespb.ValueType{
		TypeStrindex: strIndex(&stringTable, "reports"),
		UnitStrindex: strIndex(&stringTable, "count"),
	}

	buildStack := func(stack []Frame) int32 {
		locIndices := make([]int32, 0, len(stack))
		for _, f := range stack {
			funcNameIdx := strIndex(&stringTable, f.Name)
			fn := &profilespb.Function{
				NameStrindex:       funcNameIdx,
				SystemNameStrindex: funcNameIdx,
			}
			functionTable = append(functionTable, fn)
			fnIdx := int32(len(functionTable) - 1)

			loc := &profilespb.Location{
				Address:      f.Addr,
				MappingIndex: int32(defaultMappingIdx),
				Lines: []*profilespb.Line{
					{
						FunctionIndex: fnIdx,
						Line:          0,
					},
				},
			}
			locationTable = append(locationTable, loc)
			locIndices = append(locIndices, int32(len(locationTable)-1))
		}

		stackTable = append(stackTable, &profilespb.Stack{LocationIndices: locIndices})
		return int32(len(stackTable) - 1)
	}

	for _, r := range reports {
		if len(r.Stack) == 0 {
			continue
		}
		stackIdx := buildStack(r.Stack)

		samples = append(samples, &profilespb.Sample{
			StackIndex:         stackIdx,
			Values:             []int64{1},
			AttributeIndices:   []int32{},
			LinkIndex:          0,
			TimestampsUnixNano: []uint64{uint64(r.Timestamp.UnixNano())},
		})
	}

	prof := &profilespb.Profile{
		TimeUnixNano: nowNsec,
		DurationNano: uint64(0),
		SampleType:   sampleType,
		Samples:      samples,
	}

	resource := &resourceV1.Resource{Attributes: hostAttributes()}
	resourceProfiles := &profilespb.ResourceProfiles{
		Resource: resource,
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope: &v1.InstrumentationScope{
					Name:    "crashtrace",
					Version: "v1",
				},
				Profiles: []*profilespb.Profile{prof},
			},
		},
	}

	dictionary := &profilespb.ProfilesDictionary{
		MappingTable:  mappingTable,
		LocationTable: locationTable,
		FunctionTable: functionTable,
		StackTable:    stackTable,
		StringTable:   stringTable,
	}

	return &profilespb.ProfilesData{
		ResourceProfiles: []*profilespb.ResourceProfiles{resourceProfiles},
		Dictionary:       dictionary,
	}
}

func MarshalOtlpProfile(data *profilespb.ProfilesData) ([]byte, error) {
	return proto.Marshal(data)
}

func strIndex(table *[]string, s string) int32 {
	for i, v := range *table {
		if v == s {
			return int32(i)
		}
	}
	*table = append(*table, s)
	return int32(len(*table) - 1)
}
