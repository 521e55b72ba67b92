package transcript

import (
	"math/rand/v2"

	"github.com/bytebrain/docchat/internal/model/chat"
)

// DefaultGreeting is used when no welcome messages are configured.
const DefaultGreeting = "Hi! Ask me anything about the documentation."

// PickRandom selects one item from pool and returns it together with the
// remaining items. pool itself is left untouched. A nil rng uses the global
// source.
func PickRandom[T any](pool []T, rng *rand.Rand) (T, []T) {
	var zero T
	if len(pool) == 0 {
		return zero, nil
	}

	var i int
	if rng != nil {
		i = rng.IntN(len(pool))
	} else {
		i = rand.IntN(len(pool))
	}

	rest := make([]T, 0, len(pool)-1)
	rest = append(rest, pool[:i]...)
	rest = append(rest, pool[i+1:]...)
	return pool[i], rest
}

// Seed starts a transcript with one greeting picked from welcome. The greeting
// is a complete bot turn so input is enabled immediately.
func Seed(welcome []string, rng *rand.Rand) chat.Transcript {
	greeting, _ := PickRandom(welcome, rng)
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return chat.Transcript{{Speaker: chat.Bot, Text: greeting, Complete: true}}
}
