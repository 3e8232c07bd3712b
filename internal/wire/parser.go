package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"busd/internal/domain"
)

// ErrParse is returned when a line whose trimmed form starts with '{' is not
// a JSON object with string fields msg and event_name. Such a line is not
// retried under the colon or default formats; every other line parses.
var ErrParse = errors.New("wire: could not parse ingress line")

type jsonEnvelope struct {
	Msg       *string `json:"msg"`
	EventName *string `json:"event_name"`
}

// ParseIngressLine implements the three accepted ingress formats, tried in
// order: JSON object (only when the trimmed line starts with '{'), colon
// form ("event_name:payload"), and the default fallback. Callers must not
// pass an empty line; the ingress listener filters those out before
// parsing, per the state machine in spec.md §4.6.
func ParseIngressLine(line string) (domain.IngressMessage, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		return parseJSON(trimmed)
	}
	if msg, ok := parseColonForm(line); ok {
		return msg, nil
	}
	return domain.IngressMessage{EventName: domain.DefaultEventName, Payload: line}, nil
}

func parseJSON(trimmed string) (domain.IngressMessage, error) {
	var env jsonEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return domain.IngressMessage{}, fmt.Errorf("%w: invalid json: %v", ErrParse, err)
	}
	if env.Msg == nil || env.EventName == nil {
		return domain.IngressMessage{}, fmt.Errorf("%w: json object must have string fields msg and event_name", ErrParse)
	}
	return domain.IngressMessage{EventName: domain.EventName(*env.EventName), Payload: *env.Msg}, nil
}

// parseColonForm recognizes "event_name:payload". It reports ok=false
// (never an error) when there is no ':' or the candidate event name fails
// validation, so the caller falls through to the default format, per
// spec.md §4.2 step 2.
func parseColonForm(line string) (domain.IngressMessage, bool) {
	event, payload, found := strings.Cut(line, ":")
	if !found {
		return domain.IngressMessage{}, false
	}
	name := domain.EventName(event)
	if domain.ValidateEventName(name) != nil {
		return domain.IngressMessage{}, false
	}
	return domain.IngressMessage{EventName: name, Payload: payload}, true
}
