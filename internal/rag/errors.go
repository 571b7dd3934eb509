package rag

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelTimeout marks a chat model call that ran past its deadline.
var ErrModelTimeout = errors.New("model call timed out")

// ErrRetrievalTimeout marks an embed-and-query round trip that ran past
// its deadline.
var ErrRetrievalTimeout = errors.New("retrieval timed out")

// timeoutErr maps a deadline hit to the given sentinel. Caller
// cancellation and other errors pass through unchanged.
func timeoutErr(ctx context.Context, err, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}
