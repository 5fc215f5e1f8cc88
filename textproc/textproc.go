// Text processing for match indexes.
//
// A Pipeline splits a field value into tokens and then runs
// each configured token filter over the tokens, in order.
// The resulting terms are what get added to a Bloom filter.
package textproc

import (
	"strings"
	"unicode"

	"github.com/indexsupply/encdex/isxerrors"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

type Processor interface {
	Terms(value string) []string
}

type Tokenizer struct {
	Kind string `json:"kind"`
}

type TokenFilter struct {
	Kind        string `json:"kind"`
	TokenLength int    `json:"tokenLength"`
}

type Settings struct {
	Tokenizer    Tokenizer     `json:"tokenizer"`
	TokenFilters []TokenFilter `json:"tokenFilters"`
}

type Pipeline struct {
	tokenize func(string) []string
	filters  []func([]string) []string
}

func New(s Settings) (*Pipeline, error) {
	p := &Pipeline{}
	switch s.Tokenizer.Kind {
	case "", "standard":
		p.tokenize = standard
	default:
		return nil, isxerrors.Schema("unknown tokenizer kind: %q", s.Tokenizer.Kind)
	}
	for _, tf := range s.TokenFilters {
		switch tf.Kind {
		case "downcase":
			p.filters = append(p.filters, downcase)
		case "upcase":
			p.filters = append(p.filters, upcase)
		case "ngram":
			if tf.TokenLength < 1 {
				const tag = "ngram tokenLength must be a positive integer, got: %d"
				return nil, isxerrors.Schema(tag, tf.TokenLength)
			}
			p.filters = append(p.filters, ngram(tf.TokenLength))
		default:
			return nil, isxerrors.Schema("unknown token filter kind: %q", tf.Kind)
		}
	}
	return p, nil
}

// Safe for concurrent use.
func (p *Pipeline) Terms(value string) []string {
	tokens := p.tokenize(norm.NFC.String(value))
	for _, f := range p.filters {
		tokens = f(tokens)
	}
	return tokens
}

// Splits on every rune that isn't a letter or a digit.
func standard(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// cases.Caser keeps state so each call gets its own
func downcase(tokens []string) []string {
	c := cases.Lower(language.Und)
	for i := range tokens {
		tokens[i] = c.String(tokens[i])
	}
	return tokens
}

func upcase(tokens []string) []string {
	c := cases.Upper(language.Und)
	for i := range tokens {
		tokens[i] = c.String(tokens[i])
	}
	return tokens
}

// Emits every run of n consecutive runes.
// Tokens shorter than n are emitted as is.
func ngram(n int) func([]string) []string {
	return func(tokens []string) []string {
		var res []string
		for _, t := range tokens {
			r := []rune(t)
			if len(r) <= n {
				res = append(res, t)
				continue
			}
			for i := 0; i+n <= len(r); i++ {
				res = append(res, string(r[i:i+n]))
			}
		}
		return res
	}
}
