package domain

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// ResourceKind names a billable dimension metered per billing period.
type ResourceKind string

const (
	ResourceSignatures ResourceKind = "signatures"
	ResourceStorage    ResourceKind = "storage"
	ResourceAITokens   ResourceKind = "ai_tokens"
	ResourceMessaging  ResourceKind = "messaging"
)

var resources = []ResourceKind{
	ResourceSignatures,
	ResourceStorage,
	ResourceAITokens,
	ResourceMessaging,
}

// Resources lists the known kinds in display order.
func Resources() []ResourceKind {
	out := make([]ResourceKind, len(resources))
	copy(out, resources)
	return out
}

func ParseResource(raw string) (ResourceKind, error) {
	value := ResourceKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, r := range resources {
		if r == value {
			return r, nil
		}
	}
	return "", ErrInvalidResource
}

const DefaultTimezone = "UTC"

// LoadLocation resolves an IANA zone name; blank means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, DefaultTimezone) {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ErrInvalidTimezone
	}
	return loc, nil
}
