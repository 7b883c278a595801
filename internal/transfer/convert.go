package transfer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mchallet/stagesync/internal/errs"
)

// ConvertValue coerces a source value into the destination column's
// declared type. NULLs pass through, as do values whose target type has no
// explicit coercion. A failed coercion returns the original value together
// with a conversion error; callers log it and keep the value — a bad cell
// never aborts its row.
//
// The MySQL driver hands back int64/float64/[]byte/time.Time, so the
// coercions below mostly normalise []byte payloads into typed Go values
// pgx can bind cleanly.
func ConvertValue(value any, targetType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch strings.ToLower(targetType) {
	case "boolean":
		v, err := toBool(value)
		if err != nil {
			return value, convErr(value, targetType, err)
		}
		return v, nil
	case "integer", "int", "smallint", "bigint":
		v, err := toInt64(value)
		if err != nil {
			return value, convErr(value, targetType, err)
		}
		return v, nil
	case "real", "numeric", "decimal", "double precision":
		v, err := toFloat64(value)
		if err != nil {
			return value, convErr(value, targetType, err)
		}
		return v, nil
	case "character varying", "varchar", "text", "character":
		return toString(value), nil
	default:
		return value, nil
	}
}

func convErr(value any, targetType string, cause error) error {
	return errs.Wrap(errs.ErrKindConversion,
		fmt.Sprintf("cannot coerce %v to %s", value, targetType), cause)
}

func toBool(v any) (bool, error) {
	// Booleans arrive from MariaDB as tinyint: truthy means non-zero.
	n, err := toInt64(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case float64:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// NormalizeFirstName trims and title-cases a first name: every
// space- or hyphen-separated part gets a leading capital ("jean-marie" →
// "Jean-Marie"). Applied deterministically regardless of batch strategy.
func NormalizeFirstName(s string) string {
	return titleCase(strings.TrimSpace(s))
}

// NormalizeLastName trims and upper-cases a last name.
func NormalizeLastName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func titleCase(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))

	upperNext := true
	for _, r := range lower {
		if upperNext && r != ' ' && r != '-' {
			b.WriteString(strings.ToUpper(string(r)))
			upperNext = false
			continue
		}
		if r == ' ' || r == '-' {
			upperNext = true
		}
		b.WriteRune(r)
	}
	return b.String()
}
