// Package labels implements the three-level label merge, allow-list
// filter, and canonical-JSON serialization shared by the pod and storage
// aggregators.
package labels

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/jordigilh/ocpaggregator/internal/model"
)

// AllowList is the enabled_tag_keys set, read once per run by the
// side-table cache and shared read-only across every worker thereafter.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList from a flat key slice.
func NewAllowList(keys []string) AllowList {
	al := make(AllowList, len(keys))
	for _, k := range keys {
		al[k] = struct{}{}
	}
	return al
}

// Decode turns a LabelsEncoding into a plain map: a
// JSON-text value is parsed; a native value is returned as-is; an absent
// value (including a JSON literal that failed to parse as an object, which
// covers the NaN-in-a-label-column boundary case) decodes to the empty map.
func Decode(l model.LabelsEncoding) map[string]string {
	if l.IsNative() {
		m := l.NativeMap()
		if m == nil {
			return map[string]string{}
		}
		return m
	}
	if l.IsJSONText() {
		raw := bytes.TrimSpace(l.JSONBytes())
		if len(raw) == 0 {
			return map[string]string{}
		}
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			// Not a well-formed JSON object — this is exactly the "literal
			// NaN in a label column" boundary case. Treat as absent rather
			// than propagating the parse failure into an output row.
			return map[string]string{}
		}
		if m == nil {
			return map[string]string{}
		}
		return m
	}
	return map[string]string{}
}

// Merge overlays three optional label levels under the pod > namespace >
// node precedence rule: start from node, overlay namespace, overlay pod.
// Any of the three may be the zero LabelsEncoding (absent).
func Merge(node, namespace, pod model.LabelsEncoding) map[string]string {
	merged := make(map[string]string)
	for k, v := range Decode(node) {
		merged[k] = v
	}
	for k, v := range Decode(namespace) {
		merged[k] = v
	}
	for k, v := range Decode(pod) {
		merged[k] = v
	}
	return merged
}

// Filter removes every key not present in the allow-list. A nil or empty
// allow-list filters everything out, matching "allow-list is {}" rather
// than "no filtering applied".
func Filter(m map[string]string, allow AllowList) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, ok := allow[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Canonicalize serializes m with keys in lexicographic order and no
// extraneous whitespace, producing the canonical JSON form: equal logical
// maps always serialize to the same bytes, and canonicalizing twice is a
// no-op (Canonicalize(Canonicalize(x)) == Canonicalize(x), since the
// serialized form re-decodes to the same map and re-serializes the same
// way).
func Canonicalize(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(m[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String()
}

// MergeFilterCanonicalize runs the full per-row pipeline: decode, merge
// under precedence, filter by allow-list, canonicalize. It is the
// row-level primitive the vectorized column pass (ProcessColumn) calls once
// per row; kept separate so both can be unit tested directly against the
// spec's worked examples.
func MergeFilterCanonicalize(node, namespace, pod model.LabelsEncoding, allow AllowList) string {
	merged := Merge(node, namespace, pod)
	filtered := Filter(merged, allow)
	return Canonicalize(filtered)
}

// ProcessColumn applies MergeFilterCanonicalize across an entire column in
// one vectorized pass rather than a per-row closure from the caller's own
// driver loop. node/namespace are already day+key joined onto the row
// index by the caller (left-outer join is the caller's responsibility);
// this function only merges, filters, and serializes.
func ProcessColumn(node, namespace, pod []model.LabelsEncoding, allow AllowList) []string {
	n := len(pod)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		var nodeVal, nsVal model.LabelsEncoding
		if i < len(node) {
			nodeVal = node[i]
		}
		if i < len(namespace) {
			nsVal = namespace[i]
		}
		out[i] = MergeFilterCanonicalize(nodeVal, nsVal, pod[i], allow)
	}
	return out
}

// FilterSingleLevel runs the filter+canonicalize half of the pipeline for
// inputs that only ever have one label level (the storage aggregator's
// volume_labels column has no merge step).
func FilterSingleLevel(l model.LabelsEncoding, allow AllowList) string {
	return Canonicalize(Filter(Decode(l), allow))
}
