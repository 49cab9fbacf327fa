package mention

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Marker prefixes a username in message text.
const Marker = "@"

const (
	minHandleLen = 5
	maxHandleLen = 64
)

// handlePattern matches the longest valid handle at the start of a word
// run: alphanumeric runs joined by single underscores.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9]+(?:_[A-Za-z0-9]+)*`)

// Extract returns the username mentioned in each token, in token order.
// Tokens without a valid mention are dropped. With stripMarker the
// leading @ is removed.
func Extract(tokens []string, stripMarker bool) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		handle, ok := find(token)
		if !ok {
			continue
		}
		if stripMarker {
			out = append(out, handle)
		} else {
			out = append(out, Marker+handle)
		}
	}
	return out
}

// find picks the last @ in token that starts a valid mention.
func find(token string) (string, bool) {
	for i := strings.LastIndex(token, Marker); i >= 0; i = strings.LastIndex(token[:i], Marker) {
		if i > 0 {
			prev, _ := utf8.DecodeLastRuneInString(token[:i])
			if isWord(prev) {
				continue
			}
		}
		run := wordRun(token[i+1:])
		if n := utf8.RuneCountInString(run); n < minHandleLen || n > maxHandleLen {
			continue
		}
		if handle := handlePattern.FindString(run); handle != "" {
			return handle, true
		}
	}
	return "", false
}

func wordRun(s string) string {
	for i, r := range s {
		if !isWord(r) {
			return s[:i]
		}
	}
	return s
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokens joins command arguments with the words of a replied-to message.
func Tokens(args []string, replyText string) []string {
	tokens := make([]string, 0, len(args))
	for _, arg := range args {
		tokens = append(tokens, strings.Fields(arg)...)
	}
	if replyText != "" {
		folded := strings.ReplaceAll(replyText, "\n", " ")
		tokens = append(tokens, strings.Fields(folded)...)
	}
	return tokens
}

// Normalize strips the marker and drops empty and repeated usernames,
// keeping the first occurrence.
func Normalize(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, name := range usernames {
		name = strings.TrimPrefix(strings.TrimSpace(name), Marker)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Batches splits items into consecutive groups of at most size elements.
// A non-positive size yields a single group.
func Batches(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]string{append([]string(nil), items...)}
	}
	batches := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, append([]string(nil), items[start:end]...))
	}
	return batches
}
