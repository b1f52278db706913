package feed

import (
	"fmt"
	"net/url"
	"strconv"
)

// Filter scopes a subscription or fetch to rows whose Column equals Value.
// The zero Filter matches every row.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Column == ""
}

// Matches reports whether the event's row satisfies the filter.
func (f Filter) Matches(e Event) bool {
	if f.IsZero() {
		return true
	}
	v, ok := e.columns[f.Column]
	if !ok || v == nil {
		return false
	}
	return columnString(v) == f.Value
}

// Apply adds the filter to a REST query in column=eq.value form.
func (f Filter) Apply(q url.Values) {
	if f.IsZero() {
		return
	}
	q.Set(f.Column, "eq."+f.Value)
}

func (f Filter) String() string {
	if f.IsZero() {
		return "*"
	}
	return f.Column + "=" + f.Value
}

func columnString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
