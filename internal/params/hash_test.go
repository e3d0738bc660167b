package params

import "testing"

func TestHash_Deterministic(t *testing.T) {
	p := map[string]any{"company": "Acme", "budget": 1000.50, "tags": []any{"b2b", "saas"}}

	h1, err := Hash(p, "swot-analysis", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := Hash(p, "swot-analysis", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Errorf("same input should hash identically:\n  %s\n  %s", h1, h2)
	}
}

func TestHash_EquivalentInputsSameHash(t *testing.T) {
	a := map[string]any{"company": "  Acme Corp  ", "regions": []any{"EU", "US"}}
	b := map[string]any{"regions": []any{"us", "eu"}, "company": "acme corp"}

	h1, _ := Hash(a, "swot-analysis", "user-1")
	h2, _ := Hash(b, "swot-analysis", "user-1")
	if h1 != h2 {
		t.Errorf("equivalent inputs should hash identically:\n  %s\n  %s", h1, h2)
	}
}

func TestHash_DifferentParamsDifferentHash(t *testing.T) {
	h1, _ := Hash(map[string]any{"company": "acme"}, "swot-analysis", "user-1")
	h2, _ := Hash(map[string]any{"company": "globex"}, "swot-analysis", "user-1")
	if h1 == h2 {
		t.Error("different parameters should hash differently")
	}
}

func TestHash_TypedSlicesKeepTheirContents(t *testing.T) {
	a := map[string]any{"tags": []string{"alpha"}}
	b := map[string]any{"tags": []string{"beta"}}

	ha, err := Hash(a, "swot-analysis", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hb, err := Hash(b, "swot-analysis", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ha == hb {
		t.Errorf("different typed-slice contents must not collide: %s", ha)
	}

	generic, _ := Hash(map[string]any{"tags": []any{"alpha"}}, "swot-analysis", "user-1")
	if ha != generic {
		t.Errorf("typed and generic forms of the same input should hash identically:\n  %s\n  %s", ha, generic)
	}
}

func TestHash_HugeNumbers(t *testing.T) {
	h, err := Hash(map[string]any{"a": []any{1e307, 2}}, "swot-analysis", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == "" {
		t.Error("expected a hash for large but valid numbers")
	}
}

func TestHash_ScopedByTool(t *testing.T) {
	p := map[string]any{"company": "acme"}
	h1, _ := Hash(p, "swot-analysis", "user-1")
	h2, _ := Hash(p, "market-research", "user-1")
	if h1 == h2 {
		t.Error("same parameters for different tools should hash differently")
	}
}

func TestHash_ScopedByUser(t *testing.T) {
	p := map[string]any{"company": "acme"}
	h1, _ := Hash(p, "swot-analysis", "user-1")
	h2, _ := Hash(p, "swot-analysis", "user-2")
	if h1 == h2 {
		t.Error("same parameters for different users should hash differently")
	}
}

func TestHash_EmptyUserIsAnonymous(t *testing.T) {
	p := map[string]any{"company": "acme"}
	h1, _ := Hash(p, "swot-analysis", "")
	h2, _ := Hash(p, "swot-analysis", AnonymousUser)
	if h1 != h2 {
		t.Errorf("empty user should hash under the anonymous scope:\n  %s\n  %s", h1, h2)
	}
}

func TestHash_IsLowercaseHex(t *testing.T) {
	h, err := Hash(map[string]any{"company": "acme"}, "swot-analysis", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h) != 64 {
		t.Errorf("expected 64 char hex string, got %d chars: %s", len(h), h)
	}
	for _, c := range h {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("hash contains non-lowercase-hex char: %c", c)
			break
		}
	}
}

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"z": "last", "a": "first", "m": map[string]any{"y": 1, "b": 2}}
	b := map[string]any{"a": "first", "m": map[string]any{"b": 2, "y": 1}, "z": "last"}

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical encoding should be insertion-order independent:\n  %s\n  %s", ca, cb)
	}
}
