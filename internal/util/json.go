package util

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON returns the outermost open..closing delimited span of text if it
// is valid JSON. Model output often wraps JSON in prose or code fences.
func ExtractJSON(text string, open, closing byte) (string, bool) {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, closing)
	if start < 0 || end <= start {
		return "", false
	}
	span := text[start : end+1]
	if !gjson.Valid(span) {
		return "", false
	}
	return span, true
}
