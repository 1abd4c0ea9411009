package chat

import (
	"context"
	"strings"
	"time"
)

// DefaultRevealInterval is the pause between revealed words.
const DefaultRevealInterval = 20 * time.Millisecond

// Words splits text on single spaces and re-attaches the separator, so
// concatenating the result reproduces text plus one trailing space.
func Words(text string) []string {
	parts := strings.Split(text, " ")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p + " "
	}
	return out
}

// Reveal emits text word by word, pausing interval after each word. It only
// paces output; the fragment text is never modified.
func Reveal(ctx context.Context, text string, interval time.Duration, emit func(string) error) error {
	if interval <= 0 {
		interval = DefaultRevealInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for _, w := range Words(text) {
		if err := emit(w); err != nil {
			return err
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
