// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import "sort"

// SectionTracker holds the last reported state of every known section.
// It is owned by the engine loop and is not safe for concurrent use.
type SectionTracker struct {
	states map[int]SectionState
}

// NewSectionTracker seeds the tracker with sections, all disarmed.
func NewSectionTracker(sections []int) *SectionTracker {
	t := &SectionTracker{states: make(map[int]SectionState, len(sections))}
	for _, s := range sections {
		t.states[s] = SectionDisarmed
	}
	return t
}

// Set records a reported state.
func (t *SectionTracker) Set(section int, state SectionState) {
	t.states[section] = state
}

// Get returns the last state of a section.
func (t *SectionTracker) Get(section int) (SectionState, bool) {
	st, ok := t.states[section]
	return st, ok
}

// Sections returns all known section ids, ascending.
func (t *SectionTracker) Sections() []int {
	out := make([]int, 0, len(t.states))
	for s := range t.states {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// Observed returns the mapping used for catalog matching. Sections in
// SERVICE or BLOCKED are left out and therefore count as disarmed.
func (t *SectionTracker) Observed() map[int]SectionState {
	out := make(map[int]SectionState, len(t.states))
	for s, st := range t.states {
		if st.matchable() {
			out[s] = st
		}
	}
	return out
}

// Snapshot returns a copy of the raw states.
func (t *SectionTracker) Snapshot() map[int]SectionState {
	out := make(map[int]SectionState, len(t.states))
	for s, st := range t.states {
		out[s] = st
	}
	return out
}
