package logwatch

import "github.com/nugget/routerwatch/internal/routeros"

// Severity ranks an entry by its most serious topic.
type Severity int

// Severities in increasing order.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// SeverityOf returns the highest severity named in e's topics. Entries
// without a severity topic are info.
func SeverityOf(e routeros.LogEntry) Severity {
	sev := SeverityInfo
	for _, t := range e.Topics {
		var s Severity
		switch t {
		case "critical":
			s = SeverityCritical
		case "error":
			s = SeverityError
		case "warning":
			s = SeverityWarning
		default:
			continue
		}
		if s > sev {
			sev = s
		}
	}
	return sev
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
