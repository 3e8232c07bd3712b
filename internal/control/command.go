// Package control implements the line-oriented command grammar
// (REGISTER, SUBSCRIBE, UNSUBSCRIBE, LIST, QUIT) that mutates the shared
// Registry at runtime, per spec.md §4.7.
package control

import (
	"errors"
	"fmt"
	"strings"

	"busd/internal/domain"
	"busd/internal/registry"
)

// ErrUnknownCommand is returned when the first token of a command line is
// not one of the recognized keywords.
var ErrUnknownCommand = errors.New("control: unknown command")

// Interpreter evaluates one control-plane line at a time against a shared
// Registry and produces the reply lines to write back, grounded on the
// teacher's handleRequest switch in ingest/socket/server.go: one request
// in, one or more typed replies out, with no state carried between calls
// beyond the Registry itself.
type Interpreter struct {
	registry *registry.Registry
}

// NewInterpreter constructs an Interpreter bound to reg.
func NewInterpreter(reg *registry.Registry) *Interpreter {
	return &Interpreter{registry: reg}
}

// quitSentinel is returned as the error from Eval for a QUIT command so
// the caller (control.Server) knows to close the connection after writing
// the reply, without Eval needing a separate "should close" return value.
var quitSentinel = errors.New("control: quit")

// IsQuit reports whether err is the sentinel Eval returns for QUIT.
func IsQuit(err error) bool { return errors.Is(err, quitSentinel) }

// Eval tokenizes line on whitespace, matches the keyword case-insensitively,
// and returns the reply lines (without trailing newlines — the caller
// terminates each). For QUIT, the single reply line "BYE" is returned
// alongside quitSentinel so the caller closes the connection after writing
// it, per spec.md §4.7.
func (in *Interpreter) Eval(line string) ([]string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	keyword := strings.ToUpper(fields[0])
	args := fields[1:]

	switch keyword {
	case "REGISTER":
		return in.evalRegister(args)
	case "SUBSCRIBE":
		return in.evalSubscribe(args)
	case "UNSUBSCRIBE":
		return in.evalUnsubscribe(args)
	case "LIST":
		return in.evalList(args)
	case "QUIT":
		return []string{"BYE"}, quitSentinel
	default:
		return []string{fmt.Sprintf("ERR UNKNOWN_COMMAND %s", fields[0])}, ErrUnknownCommand
	}
}

func (in *Interpreter) evalRegister(args []string) ([]string, error) {
	if len(args) < 2 {
		return []string{"ERR REGISTER requires <id> <scheme>://<host>:<port> [<event> ...]"}, nil
	}
	id := domain.ConsumerID(args[0])
	if err := domain.ValidateConsumerID(id); err != nil {
		return []string{fmt.Sprintf("ERR INVALID_CONSUMER_ID %v", err)}, nil
	}
	endpoint, err := domain.ParseEndpoint(args[1])
	if err != nil {
		return []string{fmt.Sprintf("ERR INVALID_ENDPOINT %v", err)}, nil
	}

	events := make([]domain.EventName, 0, len(args)-2)
	for _, raw := range args[2:] {
		event := domain.EventName(raw)
		if err := domain.ValidateEventName(event); err != nil {
			return []string{fmt.Sprintf("ERR INVALID_EVENT_NAME %v", err)}, nil
		}
		events = append(events, event)
	}

	outcome := in.registry.Register(id, endpoint, domain.DefaultSendTimeout, events)
	if outcome == registry.Replaced {
		return []string{fmt.Sprintf("OK REPLACED %s", id)}, nil
	}
	return []string{fmt.Sprintf("OK REGISTERED %s", id)}, nil
}

func (in *Interpreter) evalSubscribe(args []string) ([]string, error) {
	if len(args) != 2 {
		return []string{"ERR SUBSCRIBE requires <id> <event>"}, nil
	}
	id, event := domain.ConsumerID(args[0]), domain.EventName(args[1])
	if err := in.registry.Subscribe(id, event); err != nil {
		return []string{"ERR UNKNOWN_CONSUMER"}, nil
	}
	return []string{"OK"}, nil
}

func (in *Interpreter) evalUnsubscribe(args []string) ([]string, error) {
	if len(args) != 2 {
		return []string{"ERR UNSUBSCRIBE requires <id> <event>"}, nil
	}
	id, event := domain.ConsumerID(args[0]), domain.EventName(args[1])
	if err := in.registry.Unsubscribe(id, event); err != nil {
		return []string{"ERR UNKNOWN_CONSUMER"}, nil
	}
	return []string{"OK"}, nil
}

func (in *Interpreter) evalList(args []string) ([]string, error) {
	if len(args) != 0 {
		return []string{"ERR LIST takes no arguments"}, nil
	}
	listing := in.registry.List()
	lines := make([]string, 0, len(listing)+1)
	for _, c := range listing {
		if len(c.Events) == 0 {
			lines = append(lines, fmt.Sprintf("%s %s", c.ID, c.Endpoint))
			continue
		}
		names := make([]string, len(c.Events))
		for i, e := range c.Events {
			names[i] = string(e)
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", c.ID, c.Endpoint, strings.Join(names, ",")))
	}
	lines = append(lines, "END")
	return lines, nil
}
