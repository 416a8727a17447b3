package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeArg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain value untouched", "johndoe", "johndoe"},
		{"command substitution stripped", "john$(rm -rf /)doe", "johnrm -rf /doe"},
		{"semicolon chain stripped", "doe;cat /etc/passwd", "doecat /etc/passwd"},
		{"pipe stripped", "a|b", "ab"},
		{"backtick stripped", "`id`", "id"},
		{"redirects stripped", "a<b>c", "abc"},
		{"braces and brackets stripped", "{a}[b]", "ab"},
		{"ampersand stripped", "x&y&&z", "xyz"},
		{"control bytes stripped", "abc\x00\x1bdef", "abcdef"},
		{"newline stripped", "abc\ndef", "abcdef"},
		{"whitespace trimmed", "  value  ", "value"},
		{"url survives", "https://example.com/path?q=1", "https://example.com/path?q=1"},
		{"email survives", "user@example.com", "user@example.com"},
		{"e164 survives", "+14155552671", "+14155552671"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, SanitizeArg(tt.in))
		})
	}
}

func TestSanitizeArgs(t *testing.T) {
	t.Parallel()

	got := SanitizeArgs([]string{"sherlock", "john;doe", "--timeout", "60"})
	require.Equal(t, []string{"sherlock", "johndoe", "--timeout", "60"}, got)
}
