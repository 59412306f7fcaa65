package checksum

import "testing"

func TestSum_KnownVector(t *testing.T) {
	got := String("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("String(abc) = %q, want %q", got, want)
	}
}

func TestMatch(t *testing.T) {
	data := []byte("abc")
	sum := Sum(data)

	cases := map[string]struct {
		expected string
		want     bool
	}{
		"exact":        {expected: sum, want: true},
		"prefixed":     {expected: "sha256:" + sum, want: true},
		"upper":        {expected: "SHA256:" + "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD", want: true},
		"empty":        {expected: "", want: false},
		"other digest": {expected: String("abd"), want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Match(data, tc.expected); got != tc.want {
				t.Errorf("Match(%q) = %v, want %v", tc.expected, got, tc.want)
			}
		})
	}
}
