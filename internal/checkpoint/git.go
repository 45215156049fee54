package checkpoint

import (
	"context"
	"os/exec"
	"time"
)

// gitTimeout bounds every git invocation so a hung hook or lock cannot
// stall the supervisor.
const gitTimeout = 30 * time.Second

func gitCommand(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
