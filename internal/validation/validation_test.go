package validation

import (
	"testing"
)

func TestValidAddress(t *testing.T) {
	cases := []struct {
		addr string
		ok   bool
	}{
		{"11111111111111111111111111111111", true},
		{"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", true},
		{"", false},
		{"0x52908400098527886E0F7030069857D2E4169EE7", false},
		{"not-base58-0OIl", false},
		{"abc", false},
	}
	for _, tc := range cases {
		if got := IsValidAddress(tc.addr); got != tc.ok {
			t.Errorf("IsValidAddress(%q) = %v, want %v", tc.addr, got, tc.ok)
		}
	}
}

func TestValidAmount(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"1", true},
		{"10000", true},
		{"18446744073709551615", true},
		{"0", false},
		{"-5", false},
		{"1.5", false},
		{"18446744073709551616", false},
		{"abc", false},
	}
	for _, tc := range cases {
		errs := Validate(ValidAmount("amount", tc.value))
		if (len(errs) == 0) != tc.ok {
			t.Errorf("ValidAmount(%q): errs=%v, want ok=%v", tc.value, errs, tc.ok)
		}
	}
}

func TestValidSeed(t *testing.T) {
	if errs := Validate(ValidSeed("seed", "0102030405060708")); len(errs) != 0 {
		t.Errorf("valid seed rejected: %v", errs)
	}
	for _, bad := range []string{"01", "zz02030405060708", "010203040506070809"} {
		if errs := Validate(ValidSeed("seed", bad)); len(errs) == 0 {
			t.Errorf("seed %q accepted", bad)
		}
	}
}

func TestParseSeed(t *testing.T) {
	seed, ok := ParseSeed("0102030405060708")
	if !ok {
		t.Fatal("parse failed")
	}
	if seed != [8]byte{1, 2, 3, 4, 5, 6, 7, 8} {
		t.Errorf("seed = %v", seed)
	}
	if _, ok := ParseSeed("xyz"); ok {
		t.Error("malformed seed accepted")
	}
}

func TestValidateCollects(t *testing.T) {
	errs := Validate(
		Required("owner", ""),
		ValidAmount("amount", "0"),
	)
	if len(errs) != 2 {
		t.Fatalf("errs = %v, want 2", errs)
	}
	if errs.Error() == "" {
		t.Error("empty error string")
	}
}
