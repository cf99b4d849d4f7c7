package messaging

import (
	"testing"
)

func TestCanonicalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15551234567", "15551234567", false},
		{"15551234567", "15551234567", false},
		{" +1 555 123-4567 ", "15551234567", false},
		{"", "", true},
		{"  ", "", true},
		{"abc", "", true},
		{"0123456", "", true},  // leading zero
		{"12345", "", true},    // too short
		{"+", "", true},
	}
	for _, c := range cases {
		got, err := CanonicalizePhoneNumber(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("CanonicalizePhoneNumber(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalizePhoneNumber(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("CanonicalizePhoneNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
