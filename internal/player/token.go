package player

import (
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator mints identity tokens for primitive instances. Every
// load and seek constructs a fresh instance with a fresh token;
// fire-and-forget side effects scheduled against an instance check the
// token before applying, so effects never land on a stale container.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator mints time-sortable UUIDv7 tokens, which keeps
// instance tokens ordered by creation time in logs.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedTokens returns predetermined tokens for tests, enabling exact
// assertions about instance identity across loads and seeks.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator that returns tokens in order and
// panics when exhausted, failing fast on test misconfiguration.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic("FixedTokens: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
