package contracts

import "strings"

// MatchTopic reports whether a routing key matches a topic binding
// pattern under AMQP topic-exchange semantics: words are dot-separated,
// "*" matches exactly one word and "#" matches zero or more words.
func MatchTopic(pattern string, key EventType) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(string(key), "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			// Try consuming zero or more key words.
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || pattern[0] != key[0] {
				return false
			}
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}
