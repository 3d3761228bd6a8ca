package transfer

import (
	"bytes"
	"context"
	"time"
)

// bytesSeeker wraps a byte slice as an io.ReadSeeker, needed because
// presigned S3 PUT requests must be retriable (the HTTP client seeks back
// to the start on a retried send).
func bytesSeeker(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
