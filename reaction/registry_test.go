package reaction

import (
	"errors"
	"strings"
	"testing"

	"github.com/openfluke/reactor/device"
)

func TestParse(t *testing.T) {
	tests := []struct {
		def  string
		want device.Op
	}{
		{"multiply=0.1", device.Multiply{A: 0.1}},
		{"mul=2", device.Multiply{A: 2}},
		{" A = -1.5 ", device.Multiply{A: -1.5}},
		{"add=2", device.Add{B: 2}},
		{"b=-7", device.Add{B: -7}},
	}
	for _, tt := range tests {
		r, err := Parse(tt.def)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.def, err)
			continue
		}
		var got device.Op
		switch r := r.(type) {
		case *Reaction[device.Multiply]:
			got = r.Op()
		case *Reaction[device.Add]:
			got = r.Op()
		default:
			t.Errorf("Parse(%q) returned %T", tt.def, r)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %#v, want %#v", tt.def, got, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		def     string
		wantMsg string
	}{
		{"multiply", `expected "kind=param"`},
		{"divide=2", "unknown reaction kind"},
		{"multiply=abc", `construct multiply("abc")`},
		{"multiply=NaN", "factor must be finite"},
		{"multiply=+Inf", "factor must be finite"},
		{"add=1.5", `construct add("1.5")`},
	}
	for _, tt := range tests {
		_, err := Parse(tt.def)
		var cerr *device.ConstructionError
		if !errors.As(err, &cerr) {
			t.Errorf("Parse(%q): expected *device.ConstructionError, got %v", tt.def, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.wantMsg) {
			t.Errorf("Parse(%q) error %q does not contain %q", tt.def, err, tt.wantMsg)
		}
	}
}

func TestParseAllReportsEveryFailure(t *testing.T) {
	set, err := ParseAll([]string{"multiply=0.1", "add=2"})
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 reactions, got %d", len(set))
	}

	_, err = ParseAll([]string{"multiply=x", "add=2", "nope=1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "2 errors occurred") {
		t.Errorf("expected both failures to be reported, got %q", msg)
	}
}

func TestKinds(t *testing.T) {
	got := strings.Join(Kinds(), ",")
	if got != "a,add,b,mul,multiply" {
		t.Errorf("Kinds() = %s", got)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a duplicate name")
		}
	}()
	Register(parseAdd, "add")
}
