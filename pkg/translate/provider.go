package translate

import (
	"context"
	"strings"
)

// Provider translates text between languages. Implementations are supplied
// by the host application; the engine only depends on this contract.
type Provider interface {
	// Translate converts text to dst. src may be empty, in which case the
	// provider detects it; the detected source language is returned.
	Translate(ctx context.Context, text, src, dst string) (string, string, error)
}

// Chain tries providers in order and falls through on error. If every
// provider fails the text is passed through verbatim with the hinted source
// language, so translation failure never fails a query.
type Chain struct {
	providers []Provider
}

var _ Provider = (*Chain)(nil)

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Translate(ctx context.Context, text, src, dst string) (string, string, error) {
	for _, p := range c.providers {
		translated, detected, err := p.Translate(ctx, text, src, dst)
		if err == nil && strings.TrimSpace(translated) != "" {
			return translated, detected, nil
		}
	}
	return text, src, nil
}

// Glossary is a deterministic term-mapping provider for offline use. It
// substitutes known source-language terms and normalizes punctuation; when
// no term matches it reports failure so the chain can try the next provider.
type Glossary struct {
	// Terms maps source-language phrases to their English equivalents.
	Terms map[string]string
	// Lang is the language the glossary translates from.
	Lang string
}

var _ Provider = (*Glossary)(nil)

func NewGlossary(lang string, terms map[string]string) *Glossary {
	return &Glossary{Lang: lang, Terms: terms}
}

func (g *Glossary) Translate(ctx context.Context, text, src, dst string) (string, string, error) {
	translated := text
	for term, english := range g.Terms {
		translated = strings.ReplaceAll(translated, term, english)
	}
	// Arabic-script question mark.
	translated = strings.ReplaceAll(translated, "؟", "?")

	if translated == text {
		return "", "", ErrNoMapping
	}
	return translated, g.Lang, nil
}

// ErrNoMapping reports that the glossary had nothing to substitute.
var ErrNoMapping = errNoMapping{}

type errNoMapping struct{}

func (errNoMapping) Error() string { return "glossary: no term mapping applied" }
