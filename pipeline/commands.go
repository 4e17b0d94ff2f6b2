package pipeline

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Command is an operator request.
type Command int

const (
	// CommandNone is not a request.
	CommandNone Command = iota
	// CommandQuit ends the running loop.
	CommandQuit
	// CommandCapture saves the next available pair.
	CommandCapture
	// CommandSnapshot exports the next point cloud.
	CommandSnapshot
)

// String returns the name of the command.
func (c Command) String() string {
	switch c {
	case CommandQuit:
		return "quit"
	case CommandCapture:
		return "capture"
	case CommandSnapshot:
		return "snapshot"
	default:
		return "none"
	}
}

// ParseCommand maps an operator key to a command: q quits, c or s captures, p exports a point
// cloud. Anything else is CommandNone.
func ParseCommand(line string) Command {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "q", "quit":
		return CommandQuit
	case "c", "s", "capture":
		return CommandCapture
	case "p", "snapshot":
		return CommandSnapshot
	default:
		return CommandNone
	}
}

// ReadCommands reads one command per line from r and sends it on out until r is exhausted or ctx is
// done. Unknown lines are ignored.
func ReadCommands(ctx context.Context, r io.Reader, out chan<- Command) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd := ParseCommand(scanner.Text())
		if cmd == CommandNone {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- cmd:
		}
	}
	return scanner.Err()
}
