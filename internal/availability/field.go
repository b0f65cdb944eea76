package availability

import (
	"fmt"
	"strings"
)

// Field names a numeric Record field usable as a scoring weight key.
type Field int

const (
	FieldAverageLatency Field = iota
	FieldMinLatency
	FieldMaxLatency
	FieldAverageInboundSpeed
	FieldMinInboundSpeed
	FieldMaxInboundSpeed
	FieldAverageOutboundSpeed
	FieldMinOutboundSpeed
	FieldMaxOutboundSpeed
	FieldAverageResponse
	FieldMinResponse
	FieldMaxResponse
	FieldPingPassRate
	FieldFailureRate
)

type fieldInfo struct {
	name string
	get  func(*Record) (float64, bool)
}

func intField(f func(*Record) *int) func(*Record) (float64, bool) {
	return func(r *Record) (float64, bool) {
		if v := f(r); v != nil {
			return float64(*v), true
		}
		return 0, false
	}
}

func floatField(f func(*Record) *float64) func(*Record) (float64, bool) {
	return func(r *Record) (float64, bool) {
		if v := f(r); v != nil {
			return *v, true
		}
		return 0, false
	}
}

var fields = [...]fieldInfo{
	FieldAverageLatency:       {"averageLatency", intField(func(r *Record) *int { return r.AverageLatency })},
	FieldMinLatency:           {"minLatency", intField(func(r *Record) *int { return r.MinLatency })},
	FieldMaxLatency:           {"maxLatency", intField(func(r *Record) *int { return r.MaxLatency })},
	FieldAverageInboundSpeed:  {"averageInboundSpeed", intField(func(r *Record) *int { return r.AverageInboundSpeed })},
	FieldMinInboundSpeed:      {"minInboundSpeed", intField(func(r *Record) *int { return r.MinInboundSpeed })},
	FieldMaxInboundSpeed:      {"maxInboundSpeed", intField(func(r *Record) *int { return r.MaxInboundSpeed })},
	FieldAverageOutboundSpeed: {"averageOutboundSpeed", intField(func(r *Record) *int { return r.AverageOutboundSpeed })},
	FieldMinOutboundSpeed:     {"minOutboundSpeed", intField(func(r *Record) *int { return r.MinOutboundSpeed })},
	FieldMaxOutboundSpeed:     {"maxOutboundSpeed", intField(func(r *Record) *int { return r.MaxOutboundSpeed })},
	FieldAverageResponse:      {"averageResponse", intField(func(r *Record) *int { return r.AverageResponse })},
	FieldMinResponse:          {"minResponse", intField(func(r *Record) *int { return r.MinResponse })},
	FieldMaxResponse:          {"maxResponse", intField(func(r *Record) *int { return r.MaxResponse })},
	FieldPingPassRate:         {"pingPassRate", floatField(func(r *Record) *float64 { return r.PingPassRate })},
	FieldFailureRate:          {"failureRate", floatField(func(r *Record) *float64 { return r.FailureRate })},
}

// Fields returns every scoring field in declaration order.
func Fields() []Field {
	out := make([]Field, len(fields))
	for i := range fields {
		out[i] = Field(i)
	}
	return out
}

// ParseField maps a field name to its Field, ignoring case.
func ParseField(name string) (Field, error) {
	for i, f := range fields {
		if strings.EqualFold(f.name, name) {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown statistics field %q", name)
}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fields) {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fields[f].name
}

// Value returns the field of r and whether it is present.
func (f Field) Value(r *Record) (float64, bool) {
	if f < 0 || int(f) >= len(fields) {
		return 0, false
	}
	return fields[f].get(r)
}
