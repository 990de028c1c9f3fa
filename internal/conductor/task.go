package conductor

import (
	"context"
	"log/slog"

	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/node"
)

// task is what a reaction works on: the locked node and its driver. It
// travels to reactions through the run's context.
type task struct {
	node   *node.Node
	driver *driver.Driver
	logger *slog.Logger
}

type taskKey struct{}

func withTask(ctx context.Context, t *task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

func taskFrom(ctx context.Context) (*task, error) {
	t, ok := ctx.Value(taskKey{}).(*task)
	if !ok || t == nil {
		return nil, ErrNoTask
	}
	return t, nil
}

// fail records err as the node's last error.
func (t *task) fail(msg string, err error) {
	t.node.LastError = msg + ": " + err.Error()
	t.logger.Error(msg, "error", err)
}
