package requestid

import "testing"

func TestNew(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if len(a) != 32 {
		t.Fatalf("New()=%q, want 32 hex chars", a)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if a == b {
		t.Fatalf("New() returned duplicate ids")
	}
}
