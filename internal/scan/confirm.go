package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// ConfirmFunc blocks until the operator has positioned the object for a
// pose. A non-nil error ends the session before that pose starts.
type ConfirmFunc func(ctx context.Context, pose string) error

// AutoConfirm proceeds immediately.
func AutoConfirm(context.Context, string) error { return nil }

// Prompt asks on w and waits for a line on r. There is no timeout.
func Prompt(r io.Reader, w io.Writer) ConfirmFunc {
	br := bufio.NewReader(r)
	return func(_ context.Context, pose string) error {
		fmt.Fprintf(w, "Position object for pose %q and press Enter to start... ", pose)
		if line, err := br.ReadString('\n'); err != nil && (err != io.EOF || line == "") {
			return fmt.Errorf("waiting for operator: %w", err)
		}
		return nil
	}
}
