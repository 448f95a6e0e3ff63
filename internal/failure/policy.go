package failure

import (
	"fmt"
	"strings"
)

// Policy decides what a component answers when its backing store fails.
type Policy string

const (
	PolicyFailOpen   Policy = "fail_open"
	PolicyFailClosed Policy = "fail_closed"
)

func (p Policy) FailOpen() bool {
	return p == PolicyFailOpen
}

// ParsePolicy normalizes a configured policy. Empty input yields def.
func ParsePolicy(raw string, def Policy) (Policy, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	switch value {
	case "":
		return def, nil
	case string(PolicyFailOpen), "open":
		return PolicyFailOpen, nil
	case string(PolicyFailClosed), "closed":
		return PolicyFailClosed, nil
	default:
		return "", fmt.Errorf("%w: unknown failure policy %q", ErrConfiguration, raw)
	}
}
