package naptime

import (
	"context"
	"errors"
	"strings"

	logx "naptime/pkg/logx"
)

// CommandRunner runs hook commands as the privileged console actor.
type CommandRunner struct {
	d   Dispatcher
	log logx.Logger
}

func NewCommandRunner(d Dispatcher, log logx.Logger) *CommandRunner {
	return &CommandRunner{d: d, log: log}
}

// Run executes commands in order. A failing command is logged and does not
// stop the rest. The joined *CommandExecutionErrors are returned.
func (r *CommandRunner) Run(ctx context.Context, commands []string) error {
	if len(commands) == 0 {
		return nil
	}
	if r == nil || r.d == nil {
		return &CommandExecutionError{Command: strings.Join(commands, "; "), Err: ErrNoDispatcher}
	}
	var errs []error
	for _, c := range commands {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := r.dispatch(ctx, c); err != nil {
			ce := &CommandExecutionError{Command: c, Err: err}
			r.log.Warn("hook command failed", logx.String("command", c), logx.Err(err))
			errs = append(errs, ce)
			continue
		}
		r.log.Debug("hook command ran", logx.String("command", c))
	}
	return errors.Join(errs...)
}

func (r *CommandRunner) dispatch(ctx context.Context, line string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	_, err = r.d.DispatchConsole(ctx, line)
	return err
}
