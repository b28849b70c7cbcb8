// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.Record(ctx, Event{Time: base, Kind: KindState, Subject: "alarm", Value: "away"}))
	require.NoError(t, j.Record(ctx, Event{Time: base.Add(time.Second), Kind: KindSensor, Subject: "3 Hall", Value: "ON"}))
	require.NoError(t, j.Record(ctx, Event{Kind: KindState, Subject: "alarm", Value: "disarmed"}))

	events, err := j.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "disarmed", events[0].Value)
	assert.Equal(t, "away", events[2].Value)
	assert.True(t, events[2].Time.Equal(base))
	assert.False(t, events[0].Time.IsZero())

	states, err := j.Recent(ctx, 1, KindState)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "disarmed", states[0].Value)
}

func TestJournal_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, Event{Kind: KindFlag, Subject: "FIRE_ALARM/1", Value: "ON"}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	events, err := j.Recent(ctx, 5, KindFlag)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "FIRE_ALARM/1", events[0].Subject)
}

func TestRecorder_WritesObservedEvents(t *testing.T) {
	j := openTestJournal(t)
	r := NewRecorder(j, 8, zerolog.Nop())

	s := jablotron.NewSensor(3, "Hall", "", "motion")
	s.Attach(r)

	r.AlarmStateChanged(jablotron.StateTriggered)
	r.SectionFlagChanged(jablotron.FlagIntruderAlarm, 2, true)
	s.SetValue(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	events, err := j.Recent(context.Background(), 10, "")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: KindSensor, Subject: "3 Hall", Value: "ON"}, strip(events[0]))
	assert.Equal(t, Event{Kind: KindFlag, Subject: "INTRUDER_ALARM/2", Value: "ON"}, strip(events[1]))
	assert.Equal(t, Event{Kind: KindState, Subject: "alarm", Value: "triggered"}, strip(events[2]))
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	j := openTestJournal(t)
	r := NewRecorder(j, 1, zerolog.Nop())

	r.AlarmStateChanged("away")
	r.AlarmStateChanged("home")

	assert.Len(t, r.queue, 1)
}

func strip(ev Event) Event {
	ev.ID = 0
	ev.Time = time.Time{}
	return ev
}
