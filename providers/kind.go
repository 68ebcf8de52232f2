package providers

import (
	"fmt"
	"strings"
)

// Kind selects a provider implementation.
type Kind int

const (
	KindUnknown Kind = iota
	KindRentCast
	KindRentSpider
	KindZillow
	KindDemo
)

var kindNames = map[Kind]string{
	KindRentCast:   "rentcast",
	KindRentSpider: "rentspider",
	KindZillow:     "zillow",
	KindDemo:       "demo",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a catalogue name to a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("providers: unknown kind %q", s)
}

// Billed reports whether fetches of this kind go through quota and rate
// limiting.
func (k Kind) Billed() bool {
	return k != KindDemo
}
