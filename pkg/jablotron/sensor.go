// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// SensorKind classifies a sensor for the accessory layer.
type SensorKind string

const (
	KindMotion SensorKind = "motion"
	KindWindow SensorKind = "window"
	KindOther  SensorKind = "other"
)

// ParseSensorKind maps a configured kind to one of the known kinds.
// Anything other than motion or window is KindOther.
func ParseSensorKind(s string) SensorKind {
	switch SensorKind(s) {
	case KindMotion, KindWindow:
		return SensorKind(s)
	default:
		return KindOther
	}
}

// SensorObserver is notified when a sensor changes its activation value.
type SensorObserver interface {
	SensorChanged(s *Sensor, active bool)
}

// SensorObserverFunc adapts a function to SensorObserver.
type SensorObserverFunc func(s *Sensor, active bool)

func (f SensorObserverFunc) SensorChanged(s *Sensor, active bool) { f(s, active) }

// Sensor is a physical detector wired to the panel. ID matches the panel
// position and is also the bit index in the PRFSTATE bitmask.
type Sensor struct {
	id    int
	name  string
	model string
	kind  SensorKind

	value atomic.Bool

	mu        sync.Mutex
	observers map[uint64]SensorObserver
	nextObs   uint64
}

// NewSensor creates a sensor. An empty name defaults to "Sensor <id>".
func NewSensor(id int, name, model, kind string) *Sensor {
	if name == "" {
		name = fmt.Sprintf("Sensor %d", id)
	}
	return &Sensor{
		id:    id,
		name:  name,
		model: model,
		kind:  ParseSensorKind(kind),
	}
}

func (s *Sensor) ID() int          { return s.id }
func (s *Sensor) Name() string     { return s.name }
func (s *Sensor) Model() string    { return s.model }
func (s *Sensor) Kind() SensorKind { return s.kind }

// Value reports whether the sensor is currently active.
func (s *Sensor) Value() bool { return s.value.Load() }

// SetValue updates the activation value and notifies observers if it changed.
func (s *Sensor) SetValue(active bool) {
	if s.value.Swap(active) == active {
		return
	}
	for _, obs := range s.snapshotObservers() {
		obs.SensorChanged(s, active)
	}
}

// Attach registers obs for change notifications. The sensor does not own the
// observer; call the returned function when the observer goes away.
func (s *Sensor) Attach(obs SensorObserver) (detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observers == nil {
		s.observers = make(map[uint64]SensorObserver)
	}
	key := s.nextObs
	s.nextObs++
	s.observers[key] = obs

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, key)
			s.mu.Unlock()
		})
	}
}

func (s *Sensor) snapshotObservers() []SensorObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]uint64, 0, len(s.observers))
	for k := range s.observers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]SensorObserver, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.observers[k])
	}
	return out
}

func (s *Sensor) String() string {
	return fmt.Sprintf("sensor #%d (%s) %q", s.id, s.kind, s.name)
}

// Registry holds the statically configured sensors.
type Registry struct {
	byID map[int]*Sensor
	ids  []int
}

// NewRegistry builds a registry. Duplicate ids are rejected.
func NewRegistry(sensors ...*Sensor) (*Registry, error) {
	r := &Registry{byID: make(map[int]*Sensor, len(sensors))}
	for _, s := range sensors {
		if s.id < 0 {
			return nil, fmt.Errorf("sensor id %d is negative", s.id)
		}
		if _, dup := r.byID[s.id]; dup {
			return nil, fmt.Errorf("duplicate sensor id %d", s.id)
		}
		r.byID[s.id] = s
		r.ids = append(r.ids, s.id)
	}
	sort.Ints(r.ids)
	return r, nil
}

// Get returns the sensor with the given id.
func (r *Registry) Get(id int) (*Sensor, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int { return len(r.ids) }

// All returns the sensors in ascending id order.
func (r *Registry) All() []*Sensor {
	out := make([]*Sensor, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// AttachAll attaches obs to every sensor and returns a single detach function.
func (r *Registry) AttachAll(obs SensorObserver) (detach func()) {
	detachers := make([]func(), 0, len(r.ids))
	for _, s := range r.All() {
		detachers = append(detachers, s.Attach(obs))
	}
	return func() {
		for _, d := range detachers {
			d()
		}
	}
}
