// Package feature holds the helpers shared by the per-bot message features.
package feature

import (
	"strings"

	"github.com/waclerk/waclerk/internal/queue"
)

// MatchResult reports which whitelist entry admitted which identifier.
type MatchResult struct {
	Allowed           bool
	MatchedIdentifier string
	MatchedEntry      string
}

// Match checks identifiers against a whitelist by substring containment: an
// identifier is admitted when it contains a whitelist entry. An empty
// whitelist admits nothing. Empty identifiers and empty entries are skipped,
// so a stray "" in a whitelist cannot admit everything.
func Match(identifiers, whitelist []string) MatchResult {
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		for _, entry := range whitelist {
			if entry == "" {
				continue
			}
			if strings.Contains(id, entry) {
				return MatchResult{Allowed: true, MatchedIdentifier: id, MatchedEntry: entry}
			}
		}
	}
	return MatchResult{}
}

// Identifiers collects a party's primary and alternate identifiers.
func Identifiers(p queue.Party) []string {
	out := make([]string, 0, 1+len(p.AlternateIdentifiers))
	out = append(out, p.Identifier)
	out = append(out, p.AlternateIdentifiers...)
	return out
}
