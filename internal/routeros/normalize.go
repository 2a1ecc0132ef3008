package routeros

import (
	"strings"
)

// Bool is a tri-state boolean read from the REST API. RouterOS encodes
// the same field as a JSON boolean on some endpoints and firmware
// versions and as a string ("true", "yes") on others.
type Bool int

// The zero value is Unknown.
const (
	Unknown Bool = iota
	True
	False
)

// IsTrue reports an affirmative value. Unknown is not true.
func (b Bool) IsTrue() bool { return b == True }

// Not inverts True and False. Unknown stays Unknown.
func (b Bool) Not() Bool {
	switch b {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

func (b Bool) String() string {
	switch b {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// NormalizeBool maps a decoded JSON scalar to a Bool. Native booleans
// and the strings true/false, yes/no and 1/0 (any case, surrounding
// space ignored) are recognized. Everything else, including nil and
// JSON numbers, is Unknown.
func NormalizeBool(raw any) Bool {
	switch v := raw.(type) {
	case bool:
		if v {
			return True
		}
		return False
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return True
		case "false", "no", "0":
			return False
		}
	}
	return Unknown
}

// NormalizeString returns a trimmed string field. ok is false when the
// value is absent, not a string, or blank.
func NormalizeString(raw any) (string, bool) {
	s, isString := raw.(string)
	if !isString {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
