package messaging

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client so that every platform call waits for a token.
// Typing indicators and reads count against the same budget as sends.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

func NewRateLimited(next Client, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", op, err)
	}
	return nil
}

func (r *RateLimited) MarkRead(ctx context.Context, conversationID int64) error {
	if err := r.wait(ctx, "mark read"); err != nil {
		return err
	}
	return r.next.MarkRead(ctx, conversationID)
}

func (r *RateLimited) ShowTyping(ctx context.Context, conversationID int64, d time.Duration) error {
	if err := r.wait(ctx, "typing"); err != nil {
		return err
	}
	return r.next.ShowTyping(ctx, conversationID, d)
}

func (r *RateLimited) SendText(ctx context.Context, conversationID int64, text string, replyTo *int64) (int64, error) {
	if err := r.wait(ctx, "send"); err != nil {
		return 0, err
	}
	return r.next.SendText(ctx, conversationID, text, replyTo)
}

func (r *RateLimited) EditText(ctx context.Context, conversationID, messageID int64, text string) error {
	if err := r.wait(ctx, "edit"); err != nil {
		return err
	}
	return r.next.EditText(ctx, conversationID, messageID, text)
}

func (r *RateLimited) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	if err := r.wait(ctx, "delete"); err != nil {
		return err
	}
	return r.next.DeleteMessage(ctx, conversationID, messageID)
}

func (r *RateLimited) ResolveEntity(ctx context.Context, conversationID int64) (*Entity, error) {
	if err := r.wait(ctx, "resolve"); err != nil {
		return nil, err
	}
	return r.next.ResolveEntity(ctx, conversationID)
}
