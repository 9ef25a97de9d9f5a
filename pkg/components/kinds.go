// Package components defines the closed set of UI component kinds a generated
// plan may reference, and the configurable allow-list drawn from that set.
package components

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is a recognized UI component kind.
type Kind string

const (
	KindButton    Kind = "Button"
	KindCard      Kind = "Card"
	KindInput     Kind = "Input"
	KindText      Kind = "Text"
	KindHeading   Kind = "Heading"
	KindImage     Kind = "Image"
	KindContainer Kind = "Container"
	KindNavbar    Kind = "Navbar"
	KindSidebar   Kind = "Sidebar"
	KindFooter    Kind = "Footer"
	KindForm      Kind = "Form"
	KindTable     Kind = "Table"
	KindChart     Kind = "Chart"
	KindModal     Kind = "Modal"
)

var knownKinds = []Kind{
	KindButton,
	KindCard,
	KindInput,
	KindText,
	KindHeading,
	KindImage,
	KindContainer,
	KindNavbar,
	KindSidebar,
	KindFooter,
	KindForm,
	KindTable,
	KindChart,
	KindModal,
}

// Known returns every kind the renderer understands, in declaration order.
func Known() []Kind {
	out := make([]Kind, len(knownKinds))
	copy(out, knownKinds)
	return out
}

// ParseKind maps a name onto a known kind. Matching is exact; "button" is not "Button".
func ParseKind(name string) (Kind, bool) {
	for _, k := range knownKinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// AllowList is the configured subset of known kinds that generated output may use.
// It is immutable once built and safe for concurrent use.
type AllowList struct {
	kinds   map[Kind]struct{}
	ordered []Kind
}

// NewAllowList builds an allow-list from configuration. Every name must be a known
// kind; duplicates are collapsed.
func NewAllowList(names []string) (*AllowList, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("allow-list must name at least one component kind")
	}

	al := &AllowList{kinds: make(map[Kind]struct{}, len(names))}
	var unknown []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		k, ok := ParseKind(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if _, dup := al.kinds[k]; dup {
			continue
		}
		al.kinds[k] = struct{}{}
		al.ordered = append(al.ordered, k)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown component kinds in allow-list: %s", strings.Join(unknown, ", "))
	}
	return al, nil
}

// DefaultAllowList allows every known kind.
func DefaultAllowList() *AllowList {
	al, _ := NewAllowList(DefaultNames())
	return al
}

// DefaultNames returns the names of all known kinds.
func DefaultNames() []string {
	names := make([]string, len(knownKinds))
	for i, k := range knownKinds {
		names[i] = string(k)
	}
	return names
}

// Allows reports whether name is an allowed kind.
func (a *AllowList) Allows(name string) bool {
	_, ok := a.kinds[Kind(name)]
	return ok
}

// Kinds returns the allowed kinds in configuration order.
func (a *AllowList) Kinds() []Kind {
	out := make([]Kind, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Names returns the allowed kinds as plain strings, in configuration order.
func (a *AllowList) Names() []string {
	out := make([]string, len(a.ordered))
	for i, k := range a.ordered {
		out[i] = string(k)
	}
	return out
}

// Len returns the number of allowed kinds.
func (a *AllowList) Len() int {
	return len(a.ordered)
}
