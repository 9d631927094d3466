package handler

// Expansions is the parsed form of a request's _expansions directive:
// absent, everything, or an explicit set of group names.
type Expansions struct {
	supplied bool
	all      bool
	names    []string
}

// ParseExpansions interprets the raw _expansions value from a decoded JSON
// request. nil means the directive was absent; true selects every group;
// a list selects the named groups (non-string members are ignored). Any
// other supplied value selects nothing but still counts as supplied, which
// matters to the collection endpoint's ids-only fallback.
func ParseExpansions(v interface{}) Expansions {
	switch val := v.(type) {
	case nil:
		return Expansions{}
	case bool:
		return Expansions{supplied: true, all: val}
	case []interface{}:
		ex := Expansions{supplied: true}
		for _, item := range val {
			if name, ok := item.(string); ok {
				ex.names = append(ex.names, name)
			}
		}
		return ex
	case []string:
		return Expansions{supplied: true, names: val}
	default:
		return Expansions{supplied: true}
	}
}

// Supplied reports whether the request carried a directive at all.
func (ex Expansions) Supplied() bool {
	return ex.supplied
}

// Active reports whether one group should be expanded. Group names match
// case-sensitively.
func (ex Expansions) Active(group string) bool {
	if ex.all {
		return true
	}
	for _, name := range ex.names {
		if name == group {
			return true
		}
	}
	return false
}
