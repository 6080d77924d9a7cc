// Package model defines the columnar row-set types shared by the reader,
// label processor, capacity calculator, and both aggregators.
package model

import "time"

// ColumnKind identifies the physical representation backing a Column.
type ColumnKind int

const (
	KindFloat64 ColumnKind = iota
	KindString
	KindTimestamp
	KindLabels
)

// Column is a single contiguous typed buffer. Exactly one of the value
// slices is populated, selected by Kind. This is the "explicit column
// arrays" representation called for in place of per-row dynamic values.
type Column struct {
	Kind    ColumnKind
	Floats  []float64
	Strings []string
	Times   []time.Time
	Labels  []LabelsEncoding

	// Dictionary, when non-nil, records that Strings was materialized from
	// a dictionary-encoded source column; Codes indexes into Values and
	// Strings is the already-expanded logical view built from it. The
	// object-store reader never sets it: it expands dictionary-encoded
	// columns into plain Strings and leaves Dictionary nil, and every
	// consumer reads Strings directly.
	Dictionary *Dictionary
}

// Dictionary records the distinct values and per-row codes a dictionary
// encoded string column was expanded from.
type Dictionary struct {
	Values []string
	Codes  []int32
}

// LabelsEncoding is a tagged variant: a label column value is either an
// undecoded JSON object string or an already native string map, decided
// once at read time so the label processor never re-detects the runtime
// type of a column.
type LabelsEncoding struct {
	hasJSON   bool
	json      []byte
	hasNative bool
	native    map[string]string
}

// JSONText constructs a LabelsEncoding backed by an undecoded JSON object
// string (or null/empty, which callers should route through Empty instead).
func JSONText(b []byte) LabelsEncoding {
	return LabelsEncoding{hasJSON: true, json: b}
}

// Native constructs a LabelsEncoding already holding a decoded map.
func Native(m map[string]string) LabelsEncoding {
	return LabelsEncoding{hasNative: true, native: m}
}

// Empty constructs the absent-labels value: decodes to the empty map.
func Empty() LabelsEncoding {
	return LabelsEncoding{}
}

// IsJSONText reports whether the value is the undecoded-JSON-text variant.
func (l LabelsEncoding) IsJSONText() bool { return l.hasJSON }

// IsNative reports whether the value is the already-native-map variant.
func (l LabelsEncoding) IsNative() bool { return l.hasNative }

// JSONBytes returns the raw JSON text for the JSONText variant.
func (l LabelsEncoding) JSONBytes() []byte { return l.json }

// NativeMap returns the map for the Native variant.
func (l LabelsEncoding) NativeMap() map[string]string { return l.native }

// Table is a finite row-set: a map of named Columns sharing a common row
// count. Every Column in a well-formed Table has len(Floats|Strings|Times|
// Labels) == NumRows for its Kind.
type Table struct {
	Columns map[string]*Column
	NumRows int
}

// NewTable returns an empty table with zero rows and no columns.
func NewTable() *Table {
	return &Table{Columns: make(map[string]*Column)}
}

// Float64Column returns the named column's float slice, or nil if the
// column is absent or not of Kind Float64.
func (t *Table) Float64Column(name string) []float64 {
	c, ok := t.Columns[name]
	if !ok || c.Kind != KindFloat64 {
		return nil
	}
	return c.Floats
}

// StringColumn returns the named column's string slice, or nil.
func (t *Table) StringColumn(name string) []string {
	c, ok := t.Columns[name]
	if !ok || c.Kind != KindString {
		return nil
	}
	return c.Strings
}

// TimeColumn returns the named column's timestamp slice, or nil.
func (t *Table) TimeColumn(name string) []time.Time {
	c, ok := t.Columns[name]
	if !ok || c.Kind != KindTimestamp {
		return nil
	}
	return c.Times
}

// LabelsColumn returns the named column's LabelsEncoding slice, or nil.
func (t *Table) LabelsColumn(name string) []LabelsEncoding {
	c, ok := t.Columns[name]
	if !ok || c.Kind != KindLabels {
		return nil
	}
	return c.Labels
}

// SetFloat64Column installs a float64 column, inferring NumRows if this is
// the first column added to the table.
func (t *Table) SetFloat64Column(name string, values []float64) {
	t.Columns[name] = &Column{Kind: KindFloat64, Floats: values}
	t.growRows(len(values))
}

// SetStringColumn installs a string column.
func (t *Table) SetStringColumn(name string, values []string) {
	t.Columns[name] = &Column{Kind: KindString, Strings: values}
	t.growRows(len(values))
}

// SetTimeColumn installs a timestamp column.
func (t *Table) SetTimeColumn(name string, values []time.Time) {
	t.Columns[name] = &Column{Kind: KindTimestamp, Times: values}
	t.growRows(len(values))
}

// SetLabelsColumn installs a labels column.
func (t *Table) SetLabelsColumn(name string, values []LabelsEncoding) {
	t.Columns[name] = &Column{Kind: KindLabels, Labels: values}
	t.growRows(len(values))
}

func (t *Table) growRows(n int) {
	if n > t.NumRows {
		t.NumRows = n
	}
}

// Concat appends rows from other to a fresh copy of t for every column
// present in either table; a column absent from one side is padded with
// its Kind's zero value for that side's row count.
func Concat(tables ...*Table) *Table {
	out := NewTable()
	names := map[string]ColumnKind{}
	total := 0
	for _, tb := range tables {
		for name, col := range tb.Columns {
			names[name] = col.Kind
		}
		total += tb.NumRows
	}
	for name, kind := range names {
		switch kind {
		case KindFloat64:
			vals := make([]float64, 0, total)
			for _, tb := range tables {
				vals = append(vals, padFloats(tb, name)...)
			}
			out.SetFloat64Column(name, vals)
		case KindString:
			vals := make([]string, 0, total)
			for _, tb := range tables {
				vals = append(vals, padStrings(tb, name)...)
			}
			out.SetStringColumn(name, vals)
		case KindTimestamp:
			vals := make([]time.Time, 0, total)
			for _, tb := range tables {
				vals = append(vals, padTimes(tb, name)...)
			}
			out.SetTimeColumn(name, vals)
		case KindLabels:
			vals := make([]LabelsEncoding, 0, total)
			for _, tb := range tables {
				vals = append(vals, padLabels(tb, name)...)
			}
			out.SetLabelsColumn(name, vals)
		}
	}
	out.NumRows = total
	return out
}

func padFloats(t *Table, name string) []float64 {
	if v := t.Float64Column(name); v != nil {
		return v
	}
	return make([]float64, t.NumRows)
}

func padStrings(t *Table, name string) []string {
	if v := t.StringColumn(name); v != nil {
		return v
	}
	return make([]string, t.NumRows)
}

func padTimes(t *Table, name string) []time.Time {
	if v := t.TimeColumn(name); v != nil {
		return v
	}
	return make([]time.Time, t.NumRows)
}

func padLabels(t *Table, name string) []LabelsEncoding {
	if v := t.LabelsColumn(name); v != nil {
		return v
	}
	out := make([]LabelsEncoding, t.NumRows)
	for i := range out {
		out[i] = Empty()
	}
	return out
}
