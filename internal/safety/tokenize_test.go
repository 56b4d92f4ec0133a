package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"ls -la", []string{"ls", "-la"}},
		{"  echo   hi  ", []string{"echo", "hi"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`echo 'it''s'`, []string{"echo", "its"}},
		{`"my tool" --flag`, []string{"my tool", "--flag"}},
		{`echo "a \"b\""`, []string{"echo", `a "b"`}},
		{`echo 'a \ b'`, []string{"echo", `a \ b`}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{`echo ""`, []string{"echo", ""}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := SplitCommand(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSplitCommand_Malformed(t *testing.T) {
	_, err := SplitCommand(`echo "unterminated`)
	assert.ErrorIs(t, err, errUnterminatedQuote)

	_, err = SplitCommand(`echo trailing\`)
	assert.ErrorIs(t, err, errUnfinishedEscape)
}

func TestFirstToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ls -la", "ls"},
		{`'ls' -la`, "ls"},
		{`"curl" https://example.com`, "curl"},
		{`"echo hi"`, "echo hi"},
		{`echo "unterminated`, "echo"},
		{`'ls -la`, "'ls"},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FirstToken(tt.in), tt.in)
	}
}
