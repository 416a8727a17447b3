package sandbox

import "strings"

// Shell metacharacters stripped from user-originated argument values. Tool
// inputs come from untrusted end users; arguments are always passed as a
// discrete argv (never through a shell), and this strip is the second line
// of that boundary.
const shellMeta = ";&|`$(){}[]<>"

// SanitizeArg strips shell metacharacters, control bytes, and surrounding
// whitespace from a value interpolated into a command line.
func SanitizeArg(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if strings.ContainsRune(shellMeta, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SanitizeArgs sanitizes every element of argv in place order.
func SanitizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = SanitizeArg(a)
	}
	return out
}
