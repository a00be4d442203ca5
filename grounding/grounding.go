// Package grounding links generated sentences to evidence. Text is split
// into sentence-level claims, each "[E<n>]" marker is resolved against the
// evidence store, and claims without a resolvable id are flagged as
// ungrounded. Claims are never dropped.
package grounding

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evidence"
	"github.com/hupe1980/agentplan/logging"
)

// MarkerPattern matches evidence markers such as "[E12]".
var MarkerPattern = regexp.MustCompile(`\[E(\d+)\]`)

var trailingMarkers = regexp.MustCompile(`^(\s*\[E\d+\])+`)

// Options configures a Tracker.
type Options struct {
	Logger logging.Logger
}

// Tracker checks Writer output against an evidence store.
type Tracker struct {
	logger logging.Logger
}

// New creates a Tracker.
func New(optFns ...func(o *Options)) *Tracker {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tracker{logger: logging.OrNoOp(opts.Logger)}
}

// CheckGrounding splits text into claims and resolves their markers.
func (t *Tracker) CheckGrounding(ctx context.Context, text string, store evidence.Store) ([]core.Claim, error) {
	sentences := SplitSentences(text)
	claims := make([]core.Claim, 0, len(sentences))
	cache := make(map[string]bool)

	for _, s := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		claim := core.Claim{Text: s}
		for _, id := range MarkerIDs(s) {
			found, ok := cache[id]
			if !ok {
				_, err := store.Get(ctx, id)
				switch {
				case err == nil:
					found = true
				case errors.Is(err, evidence.ErrNotFound):
					found = false
				default:
					return nil, fmt.Errorf("resolve %s: %w", id, err)
				}
				cache[id] = found
			}
			if found {
				claim.EvidenceIDs = append(claim.EvidenceIDs, id)
			} else {
				claim.UnresolvedIDs = append(claim.UnresolvedIDs, id)
			}
		}
		claim.Ungrounded = len(claim.EvidenceIDs) == 0
		if claim.Ungrounded {
			t.logger.Debug("grounding.claim.ungrounded", "claim", s, "unresolved", strings.Join(claim.UnresolvedIDs, ","))
		}
		claims = append(claims, claim)
	}
	return claims, nil
}

// Section grounds text and returns it as a titled section.
func (t *Tracker) Section(ctx context.Context, title, text string, store evidence.Store) (core.Section, error) {
	claims, err := t.CheckGrounding(ctx, text, store)
	if err != nil {
		return core.Section{}, err
	}
	return core.Section{Title: title, Text: strings.TrimSpace(text), Claims: claims}, nil
}

// MarkerIDs returns the distinct evidence ids referenced in s, in order.
func MarkerIDs(s string) []string {
	var ids []string
	seen := map[string]bool{}
	for _, m := range MarkerPattern.FindAllStringSubmatch(s, -1) {
		id := evidence.IDPrefix + m[1]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// SplitSentences splits text at terminal punctuation followed by whitespace
// or end of text. Markers directly after the punctuation stay with the
// sentence they follow.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			out = appendSentence(out, runes[start:i])
			start = i + 1
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		if m := trailingMarkers.FindString(string(runes[end:])); m != "" {
			end += len([]rune(m))
		}
		out = appendSentence(out, runes[start:end])
		start = end
		i = end - 1
	}
	return appendSentence(out, runes[start:])
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == '”' || r == '’'
}

func appendSentence(out []string, rs []rune) []string {
	s := strings.TrimSpace(string(rs))
	if s == "" {
		return out
	}
	return append(out, s)
}
