// Package transport is the text command channel to the execution target.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/mira/internal/apperr"
)

// Conn is a synchronous request/response channel to a live target.
// Command returns an error wrapping apperr.ErrTransport when the channel
// itself failed; the response text is returned unclassified otherwise.
type Conn interface {
	Connect(ctx context.Context) error
	Command(ctx context.Context, cmd string) (string, error)
	Close() error
}

// rejectionMarkers are response fragments the server uses for commands it
// parsed but refused. There are no structured error codes.
var rejectionMarkers = []string{"Incorrect", "Invalid", "Expected", "Unknown", "Error"}

// Classify turns a rejection response into an error wrapping
// apperr.ErrSemanticRejection. Any other response yields nil.
func Classify(resp string) error {
	for _, m := range rejectionMarkers {
		if strings.Contains(resp, m) {
			return fmt.Errorf("transport: %q: %w", truncate(resp, 200), apperr.ErrSemanticRejection)
		}
	}
	return nil
}

// Exec sends cmd and classifies the response.
func Exec(ctx context.Context, c Conn, cmd string) (string, error) {
	resp, err := c.Command(ctx, cmd)
	if err != nil {
		return "", err
	}
	if err := Classify(resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
