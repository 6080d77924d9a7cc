package labels

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordigilh/ocpaggregator/internal/model"
)

func TestMergePrecedenceNodeNamespacePod(t *testing.T) {
	node := model.Native(map[string]string{"tier": "node", "region": "us-east"})
	namespace := model.Native(map[string]string{"tier": "namespace", "team": "platform"})
	pod := model.Native(map[string]string{"tier": "pod"})

	got := Merge(node, namespace, pod)

	want := map[string]string{"tier": "pod", "region": "us-east", "team": "platform"}
	require.Equal(t, want, got)
}

func TestDecodeMalformedJSONIsEmpty(t *testing.T) {
	got := Decode(model.JSONText([]byte("NaN")))
	if len(got) != 0 {
		t.Fatalf("Decode(malformed JSON) = %v, want empty map", got)
	}
}

func TestDecodeEmptyJSONTextIsEmpty(t *testing.T) {
	got := Decode(model.JSONText(nil))
	if len(got) != 0 {
		t.Fatalf("Decode(nil json) = %v, want empty map", got)
	}
}

func TestFilterDropsKeysNotInAllowList(t *testing.T) {
	allow := NewAllowList([]string{"team"})
	got := Filter(map[string]string{"team": "platform", "secret": "x"}, allow)
	require.Equal(t, map[string]string{"team": "platform"}, got)
}

func TestFilterWithNilAllowListDropsEverything(t *testing.T) {
	got := Filter(map[string]string{"team": "platform"}, nil)
	if len(got) != 0 {
		t.Fatalf("Filter() with nil allow-list = %v, want empty map", got)
	}
}

func TestCanonicalizeEmptyIsBraces(t *testing.T) {
	if got := Canonicalize(nil); got != "{}" {
		t.Fatalf("Canonicalize(nil) = %q, want {}", got)
	}
	if got := Canonicalize(map[string]string{}); got != "{}" {
		t.Fatalf("Canonicalize({}) = %q, want {}", got)
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	m := map[string]string{"zeta": "1", "alpha": "2"}
	got := Canonicalize(m)
	want := `{"alpha":"2","zeta":"1"}`
	if got != want {
		t.Fatalf("Canonicalize() = %q, want %q", got, want)
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	m := map[string]string{"a": "1", "b": "2"}
	once := Canonicalize(m)

	var decoded map[string]string
	if err := json.Unmarshal([]byte(once), &decoded); err != nil {
		t.Fatalf("failed to unmarshal canonical form: %v", err)
	}
	twice := Canonicalize(decoded)

	if once != twice {
		t.Fatalf("Canonicalize is not idempotent: %q != %q", once, twice)
	}
}

func TestMergeFilterCanonicalizeEndToEnd(t *testing.T) {
	allow := NewAllowList([]string{"team"})
	node := model.Native(map[string]string{"team": "infra"})
	namespace := model.Empty()
	pod := model.Native(map[string]string{"other": "x"})

	got := MergeFilterCanonicalize(node, namespace, pod, allow)
	want := `{"team":"infra"}`
	if got != want {
		t.Fatalf("MergeFilterCanonicalize() = %q, want %q", got, want)
	}
}

func TestProcessColumnHandlesShorterJoinedColumns(t *testing.T) {
	allow := NewAllowList([]string{"a"})
	pod := []model.LabelsEncoding{model.Native(map[string]string{"a": "1"}), model.Native(map[string]string{"a": "2"})}
	node := []model.LabelsEncoding{model.Native(map[string]string{"a": "0"})} // shorter than pod

	got := ProcessColumn(node, nil, pod, allow)
	if len(got) != 2 {
		t.Fatalf("ProcessColumn() length = %d, want 2", len(got))
	}
	if got[0] != `{"a":"1"}` {
		t.Fatalf("ProcessColumn()[0] = %q, want {\"a\":\"1\"}", got[0])
	}
	if got[1] != `{"a":"2"}` {
		t.Fatalf("ProcessColumn()[1] = %q, want {\"a\":\"2\"}", got[1])
	}
}

func TestFilterSingleLevel(t *testing.T) {
	allow := NewAllowList([]string{"csi"})
	got := FilterSingleLevel(model.Native(map[string]string{"csi": "handle-1", "other": "x"}), allow)
	if got != `{"csi":"handle-1"}` {
		t.Fatalf("FilterSingleLevel() = %q, want {\"csi\":\"handle-1\"}", got)
	}
}
