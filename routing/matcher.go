package routing

import "strings"

const (
	wordSeparator = "."
	wildcardOne   = "*"
	wildcardAny   = "#"
)

// MatchTopic reports whether a dot-separated binding pattern matches a
// routing key. "*" matches exactly one word and "#" matches zero or more
// words, at any position. The empty string is zero words, so "#" matches ""
// and "*" does not.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(splitWords(pattern), splitWords(routingKey))
}

func splitWords(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, wordSeparator)
}

// matchWords aligns pattern words against key words. next[j] holds whether
// pattern[i+1:] matches key[j:], built from the end of the pattern backwards.
func matchWords(pattern, key []string) bool {
	n := len(key)
	next := make([]bool, n+1)
	cur := make([]bool, n+1)
	next[n] = true

	for i := len(pattern) - 1; i >= 0; i-- {
		word := pattern[i]
		switch word {
		case wildcardAny:
			// "#" either consumes nothing or one more word and stays in place
			cur[n] = next[n]
			for j := n - 1; j >= 0; j-- {
				cur[j] = next[j] || cur[j+1]
			}
		default:
			cur[n] = false
			for j := n - 1; j >= 0; j-- {
				cur[j] = (word == wildcardOne || word == key[j]) && next[j+1]
			}
		}
		next, cur = cur, next
	}

	return next[0]
}
