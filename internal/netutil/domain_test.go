package netutil

import "testing"

func TestNormalizeHostname(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"www.example.com", "www.example.com"},
		{"  WWW.Example.COM ", "www.example.com"},
		{"cdn.example.com.", "cdn.example.com"},
		{"bücher.example.com", "xn--bcher-kva.example.com"},
	}
	for _, c := range cases {
		got, err := NormalizeHostname(c.in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("%q: expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestNormalizeHostname_Rejects(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"https://example.com",
		"example.com/path",
		"example.com:443",
		"203.0.113.7",
		"2001:db8::1",
		"com",
		"co.uk",
		"bad_host!.example.com",
	}
	for _, in := range cases {
		if _, err := NormalizeHostname(in); err == nil {
			t.Fatalf("%q: expected rejection", in)
		}
	}
}
