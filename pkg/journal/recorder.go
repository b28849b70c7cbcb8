// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/rs/zerolog"
)

// Recorder observes the engine and sensors and writes their events to a
// journal from its own goroutine. When the queue is full events are dropped.
type Recorder struct {
	journal *Journal
	queue   chan Event
	log     zerolog.Logger
}

// NewRecorder creates a recorder with room for size pending events.
func NewRecorder(j *Journal, size int, log zerolog.Logger) *Recorder {
	if size <= 0 {
		size = 64
	}
	return &Recorder{journal: j, queue: make(chan Event, size), log: log}
}

func (r *Recorder) enqueue(ev Event) {
	ev.Time = time.Now()
	select {
	case r.queue <- ev:
	default:
		r.log.Warn().Str("kind", ev.Kind).Str("subject", ev.Subject).Msg("Journal queue full, dropping event")
	}
}

// AlarmStateChanged records the new overall state.
func (r *Recorder) AlarmStateChanged(state string) {
	r.enqueue(Event{Kind: KindState, Subject: "alarm", Value: state})
}

// SectionFlagChanged records a section flag transition.
func (r *Recorder) SectionFlagChanged(flag string, section int, on bool) {
	r.enqueue(Event{Kind: KindFlag, Subject: fmt.Sprintf("%s/%d", flag, section), Value: onOff(on)})
}

// SensorChanged records a sensor transition.
func (r *Recorder) SensorChanged(s *jablotron.Sensor, active bool) {
	r.enqueue(Event{Kind: KindSensor, Subject: fmt.Sprintf("%d %s", s.ID(), s.Name()), Value: onOff(active)})
}

// Run writes queued events until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.journal.Record(ctx, ev); err != nil {
		r.log.Error().Err(err).Msg("Failed to record event")
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
