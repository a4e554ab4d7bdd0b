// Package reading defines the storage-bound Reading and the mapper that
// builds one from a decoded field sequence.
package reading

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// DefaultMeasurement is the measurement name used when none is configured.
const DefaultMeasurement = "sensor_data"

// Reading is one time-series point: a measurement name, the fields that
// parsed successfully, static tags and the decode timestamp. A Reading is
// immutable once built; accessors return copies.
type Reading struct {
	measurement string
	fields      map[string]float64
	tags        map[string]string
	time        time.Time
}

// New builds a Reading. fields and tags are copied.
func New(measurement string, fields map[string]float64, tags map[string]string, ts time.Time) Reading {
	return Reading{
		measurement: measurement,
		fields:      maps.Clone(fields),
		tags:        maps.Clone(tags),
		time:        ts,
	}
}

func (r Reading) Measurement() string { return r.measurement }

// Time is the ingestion timestamp assigned at decode.
func (r Reading) Time() time.Time { return r.time }

// Len returns the number of parsed fields.
func (r Reading) Len() int { return len(r.fields) }

// Field returns the value of a single field.
func (r Reading) Field(name string) (float64, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the field map.
func (r Reading) Fields() map[string]float64 {
	out := maps.Clone(r.fields)
	if out == nil {
		out = map[string]float64{}
	}
	return out
}

// FieldNames returns the parsed field names in sorted order.
func (r Reading) FieldNames() []string {
	var names []string
	for name := range r.fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tags returns a copy of the tag map.
func (r Reading) Tags() map[string]string {
	out := maps.Clone(r.tags)
	if out == nil {
		out = map[string]string{}
	}
	return out
}

type wireReading struct {
	Measurement string             `json:"measurement"`
	Fields      map[string]float64 `json:"fields"`
	Tags        map[string]string  `json:"tags,omitempty"`
	Time        time.Time          `json:"time"`
}

// MarshalJSON encodes the reading for the spool and the MQTT sink.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireReading{
		Measurement: r.measurement,
		Fields:      r.Fields(),
		Tags:        r.tags,
		Time:        r.time,
	})
}

// UnmarshalJSON decodes a reading previously written by MarshalJSON.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = New(w.Measurement, w.Fields, w.Tags, w.Time)
	return nil
}
