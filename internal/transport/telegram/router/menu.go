package router

import (
	"slices"
	"strings"

	kit "contestfeed/internal/transport"
)

// sanitizeCommand maps a name to Telegram's [a-z0-9_]{1,32} command alphabet.
func sanitizeCommand(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func buildMenu(commands map[string]*Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(commands))
	for _, c := range commands {
		name := sanitizeCommand(c.Name)
		if name == "" {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	slices.SortFunc(out, func(a, b kit.BotCommand) int { return strings.Compare(a.Command, b.Command) })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
