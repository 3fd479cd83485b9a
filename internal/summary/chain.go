package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peertutor/api/internal/logger"
)

// fallbackTimeout bounds the last provider, which runs even when the caller's
// deadline has already passed.
const fallbackTimeout = 5 * time.Second

// Chain tries providers in order; the first success wins.
type Chain struct {
	providers []Provider
	log       *logger.Logger
}

func NewChain(log *logger.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = logger.Nop()
	}
	return &Chain{providers: providers, log: log.With("component", "SummaryChain")}
}

// Generate returns an error only when every provider failed. Each provider but
// the last gets an even share of the time left on ctx, so one that hangs cannot
// starve the rest. The last provider runs detached from ctx's deadline.
func (c *Chain) Generate(ctx context.Context, prompt string) (Result, error) {
	var errs []error
	for i, provider := range c.providers {
		stepCtx, cancel := c.stepContext(ctx, len(c.providers)-i)
		result, err := provider.Generate(stepCtx, prompt)
		cancel()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrNotConfigured) {
			c.log.Debug("summary provider skipped", "provider", provider.Name())
		} else {
			c.log.Warn("summary provider failed, falling back", "provider", provider.Name(), "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
	}
	if len(errs) == 0 {
		return Result{}, errors.New("no summary providers configured")
	}
	return Result{}, fmt.Errorf("all summary providers failed: %w", errors.Join(errs...))
}

// stepContext returns the context for a provider with left providers still to
// try, itself included.
func (c *Chain) stepContext(ctx context.Context, left int) (context.Context, context.CancelFunc) {
	if left <= 1 {
		return context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	share := time.Until(deadline) / time.Duration(left)
	return context.WithTimeout(ctx, share)
}
