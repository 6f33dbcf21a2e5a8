package grading

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pavelanni/examgrade/internal/model"
)

// KeyKind tags which authored representation produced a question's correct tokens.
type KeyKind int

const (
	// KindNone means correctness cannot be determined.
	KindNone KeyKind = iota
	// KindLiteral is a single correct string.
	KindLiteral
	// KindSet is a list of correct strings (a JSON array, or a string holding one).
	KindSet
	// KindBoolean is a true/false answer.
	KindBoolean
	// KindDerivedFromOptions means the tokens come from options flagged isCorrect.
	KindDerivedFromOptions
)

func (k KeyKind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindSet:
		return "set"
	case KindBoolean:
		return "boolean"
	case KindDerivedFromOptions:
		return "derived_from_options"
	default:
		return "none"
	}
}

// Key is a question's correct answer decoded into canonical tokens:
// trimmed, lower-cased, de-duplicated, in authored order.
type Key struct {
	Kind   KeyKind
	Tokens []string
}

// Determinable reports whether the key can be compared against at all.
func (k Key) Determinable() bool {
	return k.Kind != KindNone && len(k.Tokens) > 0
}

// DecodeKey decodes a stored correct answer. Priority: array, string (parsed
// as a JSON array first), boolean, then options flagged isCorrect. A
// representation that yields no tokens falls through to the options.
func DecodeKey(raw json.RawMessage, options []model.Option) Key {
	if k, ok := decodeCorrectAnswer(raw); ok {
		return k
	}
	if tokens := tokensFromOptions(options); len(tokens) > 0 {
		return Key{Kind: KindDerivedFromOptions, Tokens: tokens}
	}
	return Key{Kind: KindNone}
}

func decodeCorrectAnswer(raw json.RawMessage) (Key, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Key{}, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Key{}, false
	}

	var k Key
	switch t := v.(type) {
	case []any:
		k = Key{Kind: KindSet, Tokens: tokensFromValues(t)}
	case string:
		var arr []any
		if err := json.Unmarshal([]byte(t), &arr); err == nil {
			k = Key{Kind: KindSet, Tokens: tokensFromValues(arr)}
		} else {
			k = Key{Kind: KindLiteral, Tokens: dedupe([]string{canonical(t)})}
		}
	case bool:
		k = Key{Kind: KindBoolean, Tokens: []string{strconv.FormatBool(t)}}
	default:
		return Key{}, false
	}
	return k, len(k.Tokens) > 0
}

func tokensFromValues(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, canonical(stringify(v)))
	}
	return dedupe(out)
}

func tokensFromOptions(options []model.Option) []string {
	var out []string
	for _, o := range options {
		if !o.IsCorrect {
			continue
		}
		label := o.Text
		if strings.TrimSpace(label) == "" {
			label = o.Value
		}
		out = append(out, canonical(label))
	}
	return dedupe(out)
}

// StudentTokens splits a raw student answer on commas, trims and lower-cases
// each part and drops empty parts. Order is preserved.
func StudentTokens(answer string) []string {
	parts := strings.Split(answer, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := canonical(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// dedupe drops empty and repeated tokens, keeping first occurrences.
func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
