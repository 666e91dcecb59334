package session

import (
	"fmt"
	"strings"

	"github.com/asheshgoplani/opsbridge/internal/stream"
)

// contextWindow is the model context size the percentage footer is
// computed against.
const contextWindow = 200_000

// formatFooter renders the usage line appended to every delivered
// result: context fill percentage, cost, and turn count. Returns an
// empty string when nothing was reported.
func formatFooter(u *stream.Usage, costUSD float64, numTurns int) string {
	var fields []string
	if u != nil {
		pct := float64(u.ContextTokens()) / contextWindow * 100
		fields = append(fields, fmt.Sprintf("ctx %.1f%%", pct))
	}
	if costUSD > 0 {
		fields = append(fields, fmt.Sprintf("$%.4f", costUSD))
	}
	if numTurns > 0 {
		unit := "turns"
		if numTurns == 1 {
			unit = "turn"
		}
		fields = append(fields, fmt.Sprintf("%d %s", numTurns, unit))
	}
	if len(fields) == 0 {
		return ""
	}
	return "\n\n`" + strings.Join(fields, " · ") + "`"
}

// splitResponse breaks text into chunks of at most limit bytes,
// preferring paragraph boundaries, then line boundaries, then a hard
// cut. limit <= 0 disables splitting.
func splitResponse(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var parts []string
	rest := text
	for len(rest) > limit {
		cut := limit
		if i := strings.LastIndex(rest[:limit], "\n\n"); i > 0 {
			cut = i
		} else if i := strings.LastIndex(rest[:limit], "\n"); i > 0 {
			cut = i
		}
		parts = append(parts, strings.TrimRight(rest[:cut], "\n"))
		rest = strings.TrimLeft(rest[cut:], "\n")
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
