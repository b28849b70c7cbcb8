// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// DecodeSensorBitmask decodes a PRFSTATE payload into the set of active
// sensors. Bit j (LSB first) of byte i stands for sensor id i*8+j. Bits for
// ids that are not registered are skipped.
func DecodeSensorBitmask(hexState string, reg *Registry) (map[int]*Sensor, error) {
	raw, err := hex.DecodeString(hexState)
	if err != nil {
		return nil, fmt.Errorf("invalid sensor bitmask %q: %w", hexState, err)
	}
	active := make(map[int]*Sensor)
	for i, b := range raw {
		for j := 0; j < 8; j++ {
			if b&(1<<j) == 0 {
				continue
			}
			id := i*8 + j
			if s, ok := reg.Get(id); ok {
				active[id] = s
			}
		}
	}
	return active, nil
}

// ActiveSet is the set of currently active sensors. It is the only engine
// state read from outside the engine loop.
type ActiveSet struct {
	mu      sync.Mutex
	sensors map[int]*Sensor
}

// NewActiveSet creates an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{sensors: map[int]*Sensor{}}
}

// Swap installs next and returns the previous set. The lock covers only the swap.
func (a *ActiveSet) Swap(next map[int]*Sensor) map[int]*Sensor {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.sensors
	a.sensors = next
	return prev
}

// IDs returns the active sensor ids, ascending.
func (a *ActiveSet) IDs() []int {
	a.mu.Lock()
	ids := make([]int, 0, len(a.sensors))
	for id := range a.sensors {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// Contains reports whether the sensor id is active.
func (a *ActiveSet) Contains(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sensors[id]
	return ok
}

// diffSensors returns the sensors that left and joined the active set,
// each in ascending id order.
func diffSensors(prev, next map[int]*Sensor) (deactivated, activated []*Sensor) {
	for id, s := range prev {
		if _, ok := next[id]; !ok {
			deactivated = append(deactivated, s)
		}
	}
	for id, s := range next {
		if _, ok := prev[id]; !ok {
			activated = append(activated, s)
		}
	}
	byID := func(list []*Sensor) {
		sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	}
	byID(deactivated)
	byID(activated)
	return deactivated, activated
}
