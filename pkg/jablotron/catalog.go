// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"fmt"
	"sort"
	"strings"
)

// SectionState is the arming state reported for one section.
type SectionState int

const (
	SectionDisarmed SectionState = iota
	SectionArmed
	SectionPartiallyArmed
	SectionService
	SectionBlocked
)

func (s SectionState) String() string {
	switch s {
	case SectionDisarmed:
		return "DISARMED"
	case SectionArmed:
		return "ARMED"
	case SectionPartiallyArmed:
		return "PARTIALLY_ARMED"
	case SectionService:
		return "SERVICE"
	case SectionBlocked:
		return "BLOCKED"
	default:
		return fmt.Sprintf("SectionState(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s SectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// matchable reports whether the state takes part in catalog matching.
func (s SectionState) matchable() bool {
	return s == SectionDisarmed || s == SectionArmed || s == SectionPartiallyArmed
}

// AlarmState describes one overall alarm state in terms of its sections.
// Sections not listed must be disarmed.
type AlarmState struct {
	Name     string
	Sections map[int]SectionState
}

// NewAlarmState builds an alarm state from armed and partially armed sections.
func NewAlarmState(name string, armed, partial []int) (*AlarmState, error) {
	st := &AlarmState{Name: name, Sections: make(map[int]SectionState)}
	for _, s := range armed {
		st.Sections[s] = SectionArmed
	}
	for _, s := range partial {
		if st.Sections[s] == SectionArmed {
			return nil, fmt.Errorf("state %q: section %d is both armed and partial", name, s)
		}
		st.Sections[s] = SectionPartiallyArmed
	}
	return st, nil
}

// SectionsIn returns the sections required to be in state, ascending.
func (a *AlarmState) SectionsIn(state SectionState) []int {
	var out []int
	for s, st := range a.Sections {
		if st == state {
			out = append(out, s)
		}
	}
	sort.Ints(out)
	return out
}

// Matches reports whether observed agrees with the required mapping on every
// section mentioned by either side. Missing sections count as disarmed.
func (a *AlarmState) Matches(observed map[int]SectionState) bool {
	for s, want := range a.Sections {
		if stateOf(observed, s) != want {
			return false
		}
	}
	for s, got := range observed {
		if stateOf(a.Sections, s) != got {
			return false
		}
	}
	return true
}

func stateOf(m map[int]SectionState, section int) SectionState {
	if st, ok := m[section]; ok {
		return st
	}
	return SectionDisarmed
}

func (a *AlarmState) String() string {
	parts := make([]string, 0, len(a.Sections))
	ids := make([]int, 0, len(a.Sections))
	for s := range a.Sections {
		ids = append(ids, s)
	}
	sort.Ints(ids)
	for _, s := range ids {
		parts = append(parts, fmt.Sprintf("%d:%s", s, a.Sections[s]))
	}
	return fmt.Sprintf("%s{%s}", a.Name, strings.Join(parts, " "))
}

// UnknownStateError is returned when a requested alarm state is not in the catalog.
type UnknownStateError struct {
	Name string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown alarm state %q", e.Name)
}

// Catalog is the ordered list of configured alarm states. The first entry is
// always the fully disarmed state.
type Catalog struct {
	states []*AlarmState
	index  map[string]int
}

// NewCatalog builds a catalog, prepending the implicit disarmed state.
// A configured "disarmed" entry must not require any section.
func NewCatalog(states ...*AlarmState) (*Catalog, error) {
	c := &Catalog{
		states: []*AlarmState{{Name: StateDisarmed, Sections: map[int]SectionState{}}},
		index:  map[string]int{StateDisarmed: 0},
	}
	for _, st := range states {
		switch {
		case strings.TrimSpace(st.Name) == "":
			return nil, fmt.Errorf("alarm state without a name")
		case st.Name == StateTriggered:
			return nil, fmt.Errorf("alarm state name %q is reserved", StateTriggered)
		case st.Name == StateDisarmed:
			if len(st.Sections) > 0 {
				return nil, fmt.Errorf("state %q must not arm any section", StateDisarmed)
			}
			continue
		}
		if _, dup := c.index[st.Name]; dup {
			return nil, fmt.Errorf("duplicate alarm state %q", st.Name)
		}
		if st.Sections == nil {
			st.Sections = map[int]SectionState{}
		}
		c.index[st.Name] = len(c.states)
		c.states = append(c.states, st)
	}
	return c, nil
}

// Lookup returns the named state or an *UnknownStateError.
func (c *Catalog) Lookup(name string) (*AlarmState, error) {
	i, ok := c.index[name]
	if !ok {
		return nil, &UnknownStateError{Name: name}
	}
	return c.states[i], nil
}

// States returns the catalog entries in declaration order.
func (c *Catalog) States() []*AlarmState {
	out := make([]*AlarmState, len(c.states))
	copy(out, c.states)
	return out
}

// Names returns the state names in declaration order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, st.Name)
	}
	return out
}

// Sections returns every section mentioned by any entry, ascending.
func (c *Catalog) Sections() []int {
	seen := map[int]bool{}
	var out []int
	for _, st := range c.states {
		for s := range st.Sections {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Match returns the first entry matching observed, or nil.
func (c *Catalog) Match(observed map[int]SectionState) *AlarmState {
	for _, st := range c.states {
		if st.Matches(observed) {
			return st
		}
	}
	return nil
}
