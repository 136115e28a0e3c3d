package action

import (
	"encoding/json"
	"testing"
)

func TestValue_RoundTripPreservesOrderAndNumbers(t *testing.T) {
	in := `{"b":1,"a":{"z":[true,null,"x"],"y":2.50},"c":"last"}`

	var v Value
	if err := json.Unmarshal([]byte(in), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Errorf("round trip = %s, want %s", out, in)
	}
}

func TestValue_RejectsTrailingData(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a":1} {"b":2}`), &v); err == nil {
		t.Error("expected error for trailing data")
	}
}

func TestValue_Get(t *testing.T) {
	v := MapOf(F("url", String("https://example.com")), F("n", Number("3")))

	u, ok := v.Get("url")
	if !ok {
		t.Fatal("expected url field")
	}
	if s, _ := u.Scalar(); s != "https://example.com" {
		t.Errorf("url = %q", s)
	}
	if _, ok := v.Get("missing"); ok {
		t.Error("expected missing field to report false")
	}
	if _, ok := String("x").Get("url"); ok {
		t.Error("expected Get on non-map to report false")
	}
}

func TestValue_Scalar(t *testing.T) {
	tests := []struct {
		name   string
		v      Value
		want   string
		wantOK bool
	}{
		{"string", String("hi"), "hi", true},
		{"number keeps text", Number("10.500"), "10.500", true},
		{"bool true", Bool(true), "true", true},
		{"bool false", Bool(false), "false", true},
		{"null is not a scalar", Null(), "", false},
		{"list is not a scalar", ListOf(String("a")), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.Scalar()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Scalar() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestValue_Len(t *testing.T) {
	if got := ListOf(String("a"), String("b")).Len(); got != 2 {
		t.Errorf("list len = %d, want 2", got)
	}
	if got := MapOf(F("a", Null())).Len(); got != 1 {
		t.Errorf("map len = %d, want 1", got)
	}
	if got := String("x").Len(); got != 0 {
		t.Errorf("scalar len = %d, want 0", got)
	}
}
