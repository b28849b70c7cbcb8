// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/jablobridge/pkg/jablotron"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gaugeCall struct {
	name  string
	value float64
	tags  []string
}

type fakeGauger struct {
	mu    sync.Mutex
	calls []gaugeCall
	err   error
}

func (f *fakeGauger) Gauge(name string, value float64, tags []string, rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, gaugeCall{name, value, tags})
	return f.err
}

func (f *fakeGauger) Close() error { return nil }

func (f *fakeGauger) Calls() []gaugeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gaugeCall(nil), f.calls...)
}

func testCatalog(t *testing.T) *jablotron.Catalog {
	t.Helper()
	away, err := jablotron.NewAlarmState(jablotron.StateAway, []int{1}, nil)
	require.NoError(t, err)
	c, err := jablotron.NewCatalog(away)
	require.NoError(t, err)
	return c
}

func TestReporter_AlarmStateChanged(t *testing.T) {
	g := &fakeGauger{}
	r := NewReporter(g, testCatalog(t), zerolog.Nop())

	r.AlarmStateChanged(jablotron.StateAway)

	assert.Equal(t, []gaugeCall{
		{"alarm.state", 0, []string{"state:disarmed"}},
		{"alarm.state", 1, []string{"state:away"}},
		{"alarm.state", 0, []string{"state:triggered"}},
	}, g.Calls())
}

func TestReporter_SensorChanged(t *testing.T) {
	g := &fakeGauger{}
	r := NewReporter(g, testCatalog(t), zerolog.Nop())

	s := jablotron.NewSensor(7, "Hall", "", "motion")
	detach := s.Attach(r)
	defer detach()
	s.SetValue(true)

	assert.Equal(t, []gaugeCall{
		{"sensor.active", 1, []string{"sensor:7", "kind:motion"}},
	}, g.Calls())
}

func TestReporter_GaugeErrorIsLogged(t *testing.T) {
	g := &fakeGauger{err: errors.New("agent down")}
	r := NewReporter(g, testCatalog(t), zerolog.Nop())

	assert.NotPanics(t, func() { r.AlarmStateChanged(jablotron.StateDisarmed) })
}

type staticStats struct{ st jablotron.Statistics }

func (s staticStats) Stats() jablotron.Statistics { return s.st }

func TestReporter_Run(t *testing.T) {
	g := &fakeGauger{}
	r := NewReporter(g, testCatalog(t), zerolog.Nop())

	st := *jablotron.NewStatistics()
	st.TotalTelegrams = 42
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, staticStats{st}, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		for _, c := range g.Calls() {
			if c.name == "protocol.telegrams" && c.value == 42 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestDial(t *testing.T) {
	client, err := Dial("127.0.0.1:8125", "jablotron.", []string{"site:home"})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "jablotron.", client.Namespace)
}
