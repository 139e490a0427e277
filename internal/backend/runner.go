package backend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// commandTimeout is the hard deadline applied to every external command so a
// hung tool can never stall the control loop.
const commandTimeout = 10 * time.Second

// runner executes external commands with a bounded deadline.
type runner struct {
	logger *zap.Logger
}

// run executes name with args and returns trimmed combined output.
func (r *runner) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		r.logger.Debug("command failed",
			zap.String("command", name),
			zap.Strings("args", args),
			zap.String("output", output),
			zap.Error(err),
		)
		if output != "" {
			return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, output)
		}
		return output, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return output, nil
}

// runQuiet executes a command and discards failures. Used for cleanup steps
// where the target state may already hold.
func (r *runner) runQuiet(ctx context.Context, name string, args ...string) {
	if _, err := r.run(ctx, name, args...); err != nil {
		r.logger.Debug("ignored command failure", zap.Error(err))
	}
}
