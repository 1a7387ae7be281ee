package models

import (
	"fmt"
	"strings"
)

// Priority is data carried on an [Event]. It never influences ordering in
// the queue.
type Priority struct {
	priority
}

// ParsePriority creates a new [Priority] from the given value. Unrecognized
// values yield the zero priority, which is not valid.
func ParsePriority(p any) Priority {
	switch v := p.(type) {
	case Priority:
		return v
	case string:
		return Priority{stringToPriority(v)}
	case fmt.Stringer:
		return Priority{stringToPriority(v.String())}
	case int:
		return Priority{priority(v)}
	default:
		return Priority{priorityUnknown}
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed := ParsePriority(s)
	if !parsed.IsValid() {
		return fmt.Errorf("unknown priority %q", s)
	}
	*p = parsed
	return nil
}

// Priorities references each [Priority] value by name.
var Priorities = priorityContainer{
	Low:    Priority{priorityLow},
	Medium: Priority{priorityMedium},
	High:   Priority{priorityHigh},
}

// All returns every valid priority in ascending order.
func (c priorityContainer) All() []Priority {
	return []Priority{c.Low, c.Medium, c.High}
}

// FromUnit maps a uniform sample in [0,1) onto one of the priorities, each
// with probability 1/3. Samples outside the range are clamped.
func (c priorityContainer) FromUnit(u float64) Priority {
	all := c.All()
	i := int(u * float64(len(all)))
	if i < 0 {
		i = 0
	}
	if i >= len(all) {
		i = len(all) - 1
	}
	return all[i]
}

type priority int

const (
	priorityUnknown priority = 0
	priorityLow     priority = 10
	priorityMedium  priority = 20
	priorityHigh    priority = 30
)

var (
	strPriorityMap = map[priority]string{
		priorityUnknown: "UNKNOWN",
		priorityLow:     "LOW",
		priorityMedium:  "MEDIUM",
		priorityHigh:    "HIGH",
	}

	typePriorityMap = map[string]priority{
		"LOW":    priorityLow,
		"MEDIUM": priorityMedium,
		"HIGH":   priorityHigh,
	}
)

func (p priority) String() string {
	if s, ok := strPriorityMap[p]; ok {
		return s
	}
	return strPriorityMap[priorityUnknown]
}

func (p priority) IsValid() bool {
	_, ok := typePriorityMap[p.String()]
	return ok
}

func stringToPriority(s string) priority {
	if v, ok := typePriorityMap[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return v
	}
	return priorityUnknown
}

type priorityContainer struct {
	Low    Priority
	Medium Priority
	High   Priority
}
