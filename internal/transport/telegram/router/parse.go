package router

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	return uuid.New().String()[:8]
}

// tokenizeCommandLine splits command text into tokens with quote and
// backslash escape support:
//
//	/scoreboard "1-10" --active
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
			} else {
				buf.WriteByte(ch)
			}
		case ch == '"' || ch == '\'':
			inQ, qChar = true, ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits raw args into positionals and flags.
//
// Supported: --k=v, --k v, --flag, -k=v, -k v, -flag. One or two dashes mean
// the same thing. Names in boolNames never take a value, so "--active 10"
// keeps 10 positional.
func parseFlags(args []string, boolNames []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		key, ok := flagName(a)
		if !ok {
			pos = append(pos, a)
			continue
		}
		if k, v, hasEq := strings.Cut(key, "="); hasEq {
			flags[k] = v
			continue
		}
		if !slices.Contains(boolNames, key) && i+1 < len(args) {
			if _, next := flagName(args[i+1]); !next {
				flags[key] = args[i+1]
				i++
				continue
			}
		}
		bools[key] = true
	}
	return pos, flags, bools
}

// flagName strips one or two leading dashes. A lone "-" or "--" and tokens
// that start with a digit after the dash ("-5") are not flags.
func flagName(a string) (string, bool) {
	key := strings.TrimPrefix(strings.TrimPrefix(a, "-"), "-")
	if key == a || key == "" {
		return "", false
	}
	if c := key[0]; c >= '0' && c <= '9' {
		return "", false
	}
	return key, true
}
