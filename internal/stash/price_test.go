package stash

import "testing"

func TestParsePrice(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want ListingPrice
		ok   bool
	}{
		{"price chaos", "~price 12.5 chaos", ListingPrice{12.5, ChaosOrb}, true},
		{"bo divine", "~b/o 1 divine", ListingPrice{1, DivineOrb}, true},
		{"no prefix", "free stuff", ListingPrice{}, false},
		{"unknown currency", "~price 10 foobar", ListingPrice{}, false},
		{"empty", "", ListingPrice{}, false},
		{"missing currency", "~price 10", ListingPrice{}, false},
		{"mirror", "~price 1 mirror", ListingPrice{1, MirrorOfKalandra}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParsePrice(tc.in)
			if ok != tc.ok {
				t.Fatalf("ParsePrice(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("ParsePrice(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}
