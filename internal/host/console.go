package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDuplicateCommand = errors.New("command already registered")
	ErrUsage            = errors.New("usage")
)

// ConsoleName is the actor name used for console dispatch.
const ConsoleName = "CONSOLE"

// Actor is whoever issued a command line.
type Actor struct {
	Name    string
	Source  string // console | client | telegram
	Console bool
}

// ConsoleActor is the privileged server console.
func ConsoleActor() Actor { return Actor{Name: ConsoleName, Source: "console", Console: true} }

// Authorizer decides whether a non-console actor holds a permission node.
type Authorizer interface {
	Allowed(actor, node string) bool
}

type CommandFunc func(ctx context.Context, a Actor, args []string) (string, error)

type Command struct {
	Name       string
	Usage      string
	Desc       string
	Permission string // empty: anyone
	Run        CommandFunc
}

// Console is the administrative command registry.
type Console struct {
	mu   sync.RWMutex
	cmds map[string]Command
	auth Authorizer
}

func NewConsole(auth Authorizer) *Console {
	return &Console{cmds: map[string]Command{}, auth: auth}
}

// SetAuthorizer swaps the permission source.
func (c *Console) SetAuthorizer(auth Authorizer) {
	c.mu.Lock()
	c.auth = auth
	c.mu.Unlock()
}

func (c *Console) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" || cmd.Run == nil {
		return fmt.Errorf("invalid command %q", cmd.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cmds[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	cmd.Name = name
	c.cmds[name] = cmd
	return nil
}

// Commands lists registered commands by name.
func (c *Console) Commands() []Command {
	c.mu.RLock()
	out := make([]Command, 0, len(c.cmds))
	for _, cmd := range c.cmds {
		out = append(out, cmd)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch parses and runs line as a. A leading "/" is accepted.
func (c *Console) Dispatch(ctx context.Context, a Actor, line string) (string, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}
	name := strings.ToLower(fields[0])

	c.mu.RLock()
	cmd, ok := c.cmds[name]
	auth := c.auth
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if cmd.Permission != "" && !a.Console {
		if auth == nil || !auth.Allowed(a.Name, cmd.Permission) {
			return "", fmt.Errorf("%w: %s needs %s", ErrPermissionDenied, name, cmd.Permission)
		}
	}
	return cmd.Run(ctx, a, fields[1:])
}

// DispatchConsole runs line as the console.
func (c *Console) DispatchConsole(ctx context.Context, line string) (string, error) {
	return c.Dispatch(ctx, ConsoleActor(), line)
}

func (c *Console) help() string {
	var b strings.Builder
	for i, cmd := range c.Commands() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(cmd.Name)
		if cmd.Usage != "" {
			b.WriteString(" " + cmd.Usage)
		}
		if cmd.Desc != "" {
			b.WriteString(" - " + cmd.Desc)
		}
	}
	return b.String()
}
