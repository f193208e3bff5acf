package summaryservice

import (
	"encoding/json"
	"testing"
)

func TestParseValue(t *testing.T) {
	for _, tc := range []struct {
		in   string
		kind Kind
		text string
		n    int64
	}{
		{`"ab"`, String, "ab", 0},
		{`"12"`, String, "12", 0},
		{`""`, String, "", 0},
		{`"héllo"`, String, "héllo", 0},
		{`3`, Integer, "", 3},
		{`-5`, Integer, "", -5},
		{`-0`, Integer, "", 0},
		{`9223372036854775807`, Integer, "", 9223372036854775807},
		{`-9223372036854775808`, Integer, "", -9223372036854775808},
		{`9223372036854775808`, Other, "", 0},
		{`18446744073709551615`, Other, "", 0},
		{`2.0`, Other, "", 0},
		{`1.5`, Other, "", 0},
		{`3e0`, Other, "", 0},
		{`1E2`, Other, "", 0},
		{`true`, Other, "", 0},
		{`false`, Other, "", 0},
		{`null`, Other, "", 0},
		{`[1,2]`, Other, "", 0},
		{`{"a":1}`, Other, "", 0},
		{"  7  ", Integer, "", 7},
	} {
		v, err := ParseValue([]byte(tc.in))
		if err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if want, have := tc.kind, v.Kind(); want != have {
			t.Errorf("%s: kind: want %s, have %s", tc.in, want, have)
		}
		if want, have := tc.text, v.Text(); want != have {
			t.Errorf("%s: text: want %q, have %q", tc.in, want, have)
		}
		if want, have := tc.n, v.Int(); want != have {
			t.Errorf("%s: int: want %d, have %d", tc.in, want, have)
		}
	}
}

func TestParseValueInvalid(t *testing.T) {
	for _, in := range []string{``, `{`, `tru`, `1 2`, `"unterminated`} {
		if _, err := ParseValue([]byte(in)); err != ErrInvalidJSON {
			t.Errorf("%q: want %v, have %v", in, ErrInvalidJSON, err)
		}
	}
}

func TestValueArrayDecoding(t *testing.T) {
	var data []Value
	if err := json.Unmarshal([]byte(`["ab", 3, "c", 4, true, null, 2.0, [1], {"x": 1}]`), &data); err != nil {
		t.Fatal(err)
	}
	want := []Kind{String, Integer, String, Integer, Other, Other, Other, Other, Other}
	if len(data) != len(want) {
		t.Fatalf("want %d values, have %d", len(want), len(data))
	}
	for i, v := range data {
		if want, have := want[i], v.Kind(); want != have {
			t.Errorf("element %d: want %s, have %s", i, want, have)
		}
	}
}

func TestValueMarshalPreservesEncoding(t *testing.T) {
	var data []Value
	in := `["héllo",-5,2.0,1e3,true,null,[1,"a"],{"k":"v"}]`
	if err := json.Unmarshal([]byte(in), &data); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(append(data, Value{}))
	if err != nil {
		t.Fatal(err)
	}
	if want, have := `["héllo",-5,2.0,1e3,true,null,[1,"a"],{"k":"v"},null]`, string(out); want != have {
		t.Errorf("want %s, have %s", want, have)
	}
}
