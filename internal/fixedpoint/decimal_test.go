package fixedpoint

import "testing"

func mustDec(t *testing.T, s string) Decimal {
	t.Helper()
	d, err := NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestFormatFixed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value string
		scale int32
		want  string
	}{
		{"123.45", 2, "12345"},
		{"0.01", 2, "1"},
		{"0.10", 2, "10"},
		{"100.00", 2, "10000"},
		{"0.00", 2, "0"},
		{"0.00000001", 8, "1"},
		{"50000.12345678", 8, "5000012345678"},
	}

	for _, tc := range cases {
		got := FormatFixed(mustDec(t, tc.value), tc.scale)
		if got != tc.want {
			t.Errorf("FormatFixed(%s, %d) = %q, want %q", tc.value, tc.scale, got, tc.want)
		}
	}
}

func TestDecimalUnmarshalJSONStringAndNumber(t *testing.T) {
	t.Parallel()

	var d Decimal
	if err := d.UnmarshalJSON([]byte(`"1e-8"`)); err != nil {
		t.Fatalf("unmarshal scientific notation: %v", err)
	}
	if got := FormatFixed(d, 8); got != "1" {
		t.Errorf("scientific notation 1e-8 at scale 8 = %q, want \"1\"", got)
	}

	var n Decimal
	if err := n.UnmarshalJSON([]byte(`50000.1`)); err != nil {
		t.Fatalf("unmarshal bare number: %v", err)
	}
	if got := FormatFixed(n, 1); got != "500001" {
		t.Errorf("bare number 50000.1 at scale 1 = %q, want \"500001\"", got)
	}
}

func TestDecimalZeroEmpty(t *testing.T) {
	t.Parallel()
	var d Decimal
	if err := d.UnmarshalJSON([]byte(`null`)); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !d.IsZero() {
		t.Error("null should unmarshal to zero")
	}
}
