package reading

import (
	"log/slog"
	"maps"
	"math"
	"strconv"
	"time"

	"github.com/chaz8081/sensor-gateway/internal/frame"
)

// Mapper converts schema-aligned field text into Readings.
type Mapper struct {
	schema      frame.Schema
	measurement string
	tags        map[string]string
	now         func() time.Time
}

// NewMapper creates a Mapper. An empty measurement falls back to
// DefaultMeasurement.
func NewMapper(schema frame.Schema, measurement string, tags map[string]string) *Mapper {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &Mapper{
		schema:      schema,
		measurement: measurement,
		tags:        maps.Clone(tags),
		now:         time.Now,
	}
}

// Map parses each field as a float. A field that fails to parse, or parses
// to NaN or an infinity, is logged and left out of the Reading. The returned
// Reading may have zero fields.
func (m *Mapper) Map(fields []string) Reading {
	values := make(map[string]float64, m.schema.Len())
	for i := 0; i < m.schema.Len() && i < len(fields); i++ {
		name := m.schema.Name(i)
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			slog.Warn("[MAP] field parse failed", "field", name, "value", fields[i], "error", err)
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			slog.Warn("[MAP] field not finite", "field", name, "value", fields[i])
			continue
		}
		values[name] = v
	}
	return Reading{
		measurement: m.measurement,
		fields:      values,
		tags:        m.tags,
		time:        m.now(),
	}
}
