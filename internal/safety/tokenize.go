package safety

import (
	"errors"
	"strings"
	"unicode"
)

var (
	errUnterminatedQuote = errors.New("unterminated quote")
	errUnfinishedEscape  = errors.New("unfinished escape sequence")
)

// SplitCommand tokenizes a command line the way a POSIX shell groups words:
// single quotes are literal, double quotes allow backslash escapes, and an
// unquoted backslash escapes the next rune.
func SplitCommand(input string) ([]string, error) {
	var (
		args               []string
		current            strings.Builder
		inSingle, inDouble bool
		escape             bool
		started            bool
	)

	flush := func() {
		if !started {
			return
		}
		args = append(args, current.String())
		current.Reset()
		started = false
	}

	for _, r := range input {
		switch {
		case escape:
			current.WriteRune(r)
			escape = false
		case r == '\\' && !inSingle:
			escape = true
			started = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			started = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			started = true
		case unicode.IsSpace(r) && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(r)
			started = true
		}
	}

	if escape {
		return nil, errUnfinishedEscape
	}
	if inSingle || inDouble {
		return nil, errUnterminatedQuote
	}
	flush()
	return args, nil
}

// FirstToken returns the command word of a command line. Malformed quoting
// falls back to a plain whitespace split so a decision can always be made.
func FirstToken(command string) string {
	if args, err := SplitCommand(command); err == nil {
		if len(args) > 0 {
			return args[0]
		}
		return ""
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
