package flows

import "testing"

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer abc", want: "abc", ok: true},
		{header: "BEARER   abc  ", want: "abc", ok: true},
		{header: "Bearer", ok: false},
		{header: "Bearer ", ok: false},
		{header: "Basic abc", ok: false},
		{header: "Bearer a b", ok: false},
		{header: "", ok: false},
		{header: "abc", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseBearer(tt.header)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseBearer(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
