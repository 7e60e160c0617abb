package ai

import (
	"context"
	"strings"
)

type narratorChain struct {
	primary  Narrator
	fallback Narrator
}

// WithFallback returns a narrator that first tries the primary implementation and
// falls back to the provided narrator when the primary is unavailable or produces
// an unusable response.
func WithFallback(primary, fallback Narrator) Narrator {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &narratorChain{primary: primary, fallback: fallback}
}

func (c *narratorChain) Enabled() bool {
	if c == nil {
		return false
	}
	return (c.primary != nil && c.primary.Enabled()) || (c.fallback != nil && c.fallback.Enabled())
}

func (c *narratorChain) Narrate(ctx context.Context, input NarrativeInput) (Narrative, error) {
	if c == nil {
		return Narrative{}, ErrDisabled
	}
	if c.primary != nil && c.primary.Enabled() {
		if narrative, err := c.primary.Narrate(ctx, input); err == nil && strings.TrimSpace(narrative.Summary) != "" {
			return narrative, nil
		}
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return c.fallback.Narrate(ctx, input)
	}
	return Narrative{}, ErrDisabled
}
