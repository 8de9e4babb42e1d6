package roles

import (
	"fmt"
	"strings"
)

// ParseFlag interprets a boolean-like role value.
func ParseFlag(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int:
		return intFlag(int64(t))
	case int32:
		return intFlag(int64(t))
	case int64:
		return intFlag(t)
	case uint64:
		if t > 1 {
			return false, fmt.Errorf("value %d is not boolean-like", t)
		}
		return t == 1, nil
	case float64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
		return false, fmt.Errorf("value %v is not boolean-like", t)
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return false, fmt.Errorf("value %q is not boolean-like", t)
	case nil:
		return false, fmt.Errorf("missing value")
	default:
		return false, fmt.Errorf("value of type %T is not boolean-like", v)
	}
}

func intFlag(n int64) (bool, error) {
	if n != 0 && n != 1 {
		return false, fmt.Errorf("value %d is not boolean-like", n)
	}
	return n == 1, nil
}
