package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// CommandContext holds what a command handler may use.
type CommandContext struct {
	Out   io.Writer
	Admin Admin
	User  string
	Args  []string
}

// CommandHandler runs a console command. Returning true ends the session.
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered console command.
type Command struct {
	Usage   string // shown in help instead of the bare name, e.g. "/kick <player> [reason]"
	Help    string
	Handler CommandHandler
}

// CommandRegistrar is the registration half of CommandRegistry.
type CommandRegistrar interface {
	Register(name string, cmd Command)
}

// CommandRegistry maps command names to handlers. Dispatch and HelpText are
// safe for concurrent sessions. Once frozen no command can be added.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string
	frozen   bool
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register adds or replaces a command. name includes the leading slash.
// It panics on a nil handler or a frozen registry.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("console: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("console: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further registration.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch runs the command on line. It returns true if the session should
// end.
func (r *CommandRegistry) Dispatch(line, user string, out io.Writer, admin Admin) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name := parts[0]

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		fmt.Fprintf(out, "Unknown command: %s (try /help)\r\n", name)
		return false
	}
	return cmd.Handler(CommandContext{Out: out, Admin: admin, User: user, Args: parts[1:]})
}

// HelpText lists commands in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\r\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		fmt.Fprintf(&b, "  %-36s %s\r\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers /players, /stats, /kick, /send, /quit and /help.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/players", Command{
		Help: "list players in play",
		Handler: func(ctx CommandContext) bool {
			players := ctx.Admin.Players()
			fmt.Fprintf(ctx.Out, "Online (%d):\r\n", len(players))
			for _, p := range players {
				fmt.Fprintf(ctx.Out, "  %-16s %s  %s  %s\r\n", p.Name, p.UUID, p.Version, p.Addr)
			}
			return false
		},
	})

	r.Register("/stats", Command{
		Help: "show player and connection counts",
		Handler: func(ctx CommandContext) bool {
			fmt.Fprintf(ctx.Out, "Players: %d  Connections: %d\r\n", len(ctx.Admin.Players()), ctx.Admin.Connections())
			return false
		},
	})

	r.Register("/kick", Command{
		Usage: "/kick <player> [reason]",
		Help:  "disconnect a player",
		Handler: func(ctx CommandContext) bool {
			if len(ctx.Args) == 0 {
				fmt.Fprint(ctx.Out, "Usage: /kick <player> [reason]\r\n")
				return false
			}
			name := ctx.Args[0]
			reason := "Kicked by " + ctx.User
			if len(ctx.Args) > 1 {
				reason = strings.Join(ctx.Args[1:], " ")
			}
			if !ctx.Admin.Kick(name, reason) {
				fmt.Fprintf(ctx.Out, "No player named %s\r\n", name)
				return false
			}
			fmt.Fprintf(ctx.Out, "Kicked %s: %s\r\n", name, reason)
			return false
		},
	})

	r.Register("/send", Command{
		Usage: "/send <player|*> <channel> <text>",
		Help:  "send a plugin message",
		Handler: func(ctx CommandContext) bool {
			if len(ctx.Args) < 3 {
				fmt.Fprint(ctx.Out, "Usage: /send <player|*> <channel> <text>\r\n")
				return false
			}
			text := strings.Join(ctx.Args[2:], " ")
			n, err := ctx.Admin.SendPluginMessage(ctx.Args[0], ctx.Args[1], []byte(text))
			if err != nil {
				fmt.Fprintf(ctx.Out, "Error: %v\r\n", err)
				return false
			}
			fmt.Fprintf(ctx.Out, "Sent to %d player(s)\r\n", n)
			return false
		},
	})

	r.Register("/quit", Command{
		Help: "disconnect",
		Handler: func(ctx CommandContext) bool {
			fmt.Fprint(ctx.Out, "Goodbye.\r\n")
			return true
		},
	})

	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			fmt.Fprint(ctx.Out, r.HelpText())
			return false
		},
	})
}
