package rate

import "time"

// Window is a rate-limit bucket period.
type Window int

const (
	Minute Window = iota
	Hour
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	default:
		return time.Minute
	}
}

// Declaration defines a target's call limits.
type Declaration struct {
	target string
	limits map[Window]int
}

// Target creates a new declaration for a named target, usually a device id.
func Target(name string) Declaration {
	return Declaration{target: name}
}

func (d Declaration) TargetName() string {
	return d.target
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}
