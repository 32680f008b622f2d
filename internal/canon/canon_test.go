package canon

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"trims and collapses", "   echo    hello   ", "echo hello"},
		{"merges split short flags", "rm -r -f /", "rm -rf /"},
		{"does not merge long flags", "rm --recursive --force /", "rm --recursive --force /"},
		{"does not merge flag with digit", "tar -x -9 file", "tar -x -9 file"},
		{"strips pure literal quotes", `echo "hello"`, "echo hello"},
		{"keeps quotes when command substitution present", `echo "$(date)"`, `echo "$(date)"`},
		{"keeps quotes when semicolon present", `echo "a"; echo "b"`, `echo "a"; echo "b"`},
		{"preserves internal single space inside quotes", `echo "a  b"`, `echo "a  b"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Canonicalize(tc.input)
			if got != tc.expected {
				t.Errorf("Canonicalize(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"  rm  -r -f  /tmp/x  ",
		`echo "hi there"`,
		`cmd=$(echo bash); $cmd`,
		"ls -la",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		twice := Canonicalize(once)
		if once != twice {
			t.Errorf("Canonicalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
