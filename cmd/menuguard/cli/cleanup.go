package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// KeyCleaner purges claimed idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupOptions defines flags for the cleanup-keys command.
type CleanupOptions struct {
	OlderThan time.Duration
	Stdout    io.Writer
	Stderr    io.Writer
}

// CleanupCommand removes idempotency keys older than opts.OlderThan.
func CleanupCommand(ctx context.Context, keys KeyCleaner, opts CleanupOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.OlderThan <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "cleanup-keys: --older-than must be positive")
		return 1
	}
	n, err := keys.Cleanup(ctx, opts.OlderThan)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "cleanup-keys: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "removed %d idempotency key(s) older than %s\n", n, opts.OlderThan)
	return 0
}
