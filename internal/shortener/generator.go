package shortener

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/abdusco/shortly/internal"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	DefaultAlphabet   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultCodeLength = 6
	DefaultMaxRetries = 10

	MinCustomCodeLength = 6
	MaxCustomCodeLength = 10
)

var customCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// reservedCodes collide with routes served next to the redirect handler.
var reservedCodes = []string{
	"api", "health", "login", "logout", "register", "media", "static", "admin",
}

type Config struct {
	CodeLength int
	Alphabet   string
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		CodeLength: DefaultCodeLength,
		Alphabet:   DefaultAlphabet,
		MaxRetries: DefaultMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.Alphabet == "" {
		c.Alphabet = DefaultAlphabet
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// CodeChecker is the part of the link store the generator needs.
type CodeChecker interface {
	ExistsByCode(ctx context.Context, code string) (bool, error)
}

type Generator struct {
	store CodeChecker
	cfg   Config
	draw  func(alphabet string, length int) (string, error)
}

func NewGenerator(store CodeChecker, cfg Config) *Generator {
	return &Generator{store: store, cfg: cfg.withDefaults(), draw: randomCode}
}

// GenerateUniqueCode draws random codes until one is neither a reserved
// route word nor present in the store. Both count as collisions. The code is
// not held; the insert can still lose a race.
func (g *Generator) GenerateUniqueCode(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		code, err := g.draw(g.cfg.Alphabet, g.cfg.CodeLength)
		if err != nil {
			return "", fmt.Errorf("draw code: %w", err)
		}

		if isReserved(code) {
			log.Debug().Str("code", code).Int("attempt", attempt).Msg("drew reserved word, retrying")
			continue
		}

		exists, err := g.store.ExistsByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}

		log.Debug().Str("code", code).Int("attempt", attempt).Msg("short code collision, retrying")
	}

	log.Error().Int("attempts", g.cfg.MaxRetries).Msg("short code generation exhausted retries")
	return "", internal.ErrExhaustedRetries
}

// ValidateCustomCode checks a user-supplied code. Format problems are
// reported as a *internal.ValidationError, an existing code as
// internal.ErrCodeTaken.
func (g *Generator) ValidateCustomCode(ctx context.Context, code string) error {
	if msg := customCodeProblem(code); msg != "" {
		verr := internal.NewValidationError()
		verr.Add("custom_code", msg)
		return verr
	}

	exists, err := g.store.ExistsByCode(ctx, code)
	if err != nil {
		return err
	}
	if exists {
		return internal.ErrCodeTaken
	}
	return nil
}

func customCodeProblem(code string) string {
	if len(code) < MinCustomCodeLength || len(code) > MaxCustomCodeLength {
		return fmt.Sprintf("must be between %d and %d characters", MinCustomCodeLength, MaxCustomCodeLength)
	}
	if !customCodeRegex.MatchString(code) {
		return "must contain only letters, numbers, hyphens, and underscores"
	}
	if isReserved(code) {
		return "is reserved"
	}
	return ""
}

func isReserved(code string) bool {
	return lo.ContainsBy(reservedCodes, func(r string) bool { return strings.EqualFold(r, code) })
}

func randomCode(alphabet string, length int) (string, error) {
	b := make([]byte, length)
	n := big.NewInt(int64(len(alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
