package query

import (
	"encoding/json"
	"strings"
)

// Path is a field reference, possibly reaching through relations:
// ["author", "name"] refers to the name field of the author relation.
// It marshals to and from the dotted string form.
type Path []string

// ParsePath splits a dotted reference into its segments.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// First returns the leading segment, or "" for an empty path.
func (p Path) First() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// IsNested reports whether the path traverses at least one relation.
func (p Path) IsNested() bool {
	return len(p) > 1
}

// ShiftDown returns a copy with the leading segment removed, re-rooting
// the path one relation deeper. Only defined for nested paths; callers
// guard with IsNested.
func (p Path) ShiftDown() Path {
	if len(p) < 2 {
		panic("query: ShiftDown on a path without relation segments")
	}
	return append(Path(nil), p[1:]...)
}

func (p Path) clone() Path {
	if p == nil {
		return nil
	}
	return append(Path(nil), p...)
}

func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Path) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePath(s)
	return nil
}
