// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrConnectionLost is returned by Run when the transport fails.
	ErrConnectionLost = errors.New("RS-485 connection lost")
	// ErrNotReady is returned for commands issued before initialisation completed.
	ErrNotReady = errors.New("protocol not initialized")
	// ErrStopped is returned for requests made after Run returned.
	ErrStopped = errors.New("engine stopped")
)

// Options configures an Engine.
type Options struct {
	PIN            string
	SettleDelay    time.Duration
	CommandTimeout time.Duration
	MaxLineLength  int
	OffPolicy      OffPolicy
	Logger         zerolog.Logger
}

// Identity is the panel interface identification from the VER telegram.
type Identity struct {
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
	Hardware string `json:"hardware"`
}

// StateObserver is notified when the overall alarm state changes.
type StateObserver interface {
	AlarmStateChanged(state string)
}

// FlagObserver is notified of warning, alarm, entry and exit flags.
type FlagObserver interface {
	SectionFlagChanged(flag string, section int, on bool)
}

// TelegramObserver sees every framed telegram after dispatch.
type TelegramObserver interface {
	TelegramReceived(line, route string, result DispatchResult)
}

// ActiveFlag is a section flag currently reported ON.
type ActiveFlag struct {
	Section int    `json:"section"`
	Flag    string `json:"flag"`
}

// Snapshot is a consistent copy of the engine state for display.
type Snapshot struct {
	State         string
	Identity      Identity
	Sections      map[int]SectionState
	Flags         []ActiveFlag
	ActiveSensors []int
	LastTelegram  time.Time
	Ready         bool
}

// StatePlan lists the sections touched by an alarm state change.
type StatePlan struct {
	Target     string
	Disarm     []int
	Arm        []int
	ArmPartial []int
}

type command struct {
	text string
	auth bool
}

// Commands returns the authenticated commands for the plan in send order:
// disarm, arm, partially arm. Empty groups are skipped.
func (p StatePlan) Commands() []string {
	var out []string
	for _, c := range p.commands() {
		out = append(out, c.text)
	}
	return out
}

func (p StatePlan) commands() []command {
	var out []command
	add := func(verb string, sections []int) {
		if len(sections) == 0 {
			return
		}
		out = append(out, command{text: verb + " " + joinSections(sections), auth: true})
	}
	add(CmdUnset, p.Disarm)
	add(CmdSet, p.Arm)
	add(CmdSetPartial, p.ArmPartial)
	return out
}

type stateRequest struct {
	target *AlarmState
	reply  chan StatePlan
}

type commandJob struct {
	commands []command
	reply    chan error
}

// Engine runs the RS-485 protocol session.
//
// Run owns the read side: framing, dispatch, the section tracker and the
// reconciliation timer all live on its goroutine. Commands are written from
// a second goroutine, one at a time. Other goroutines talk to the engine
// through SetAlarmState, Query and the read-only accessors.
type Engine struct {
	rw      io.ReadWriter
	opts    Options
	log     zerolog.Logger
	sensors *Registry
	catalog *Catalog

	tracker    *SectionTracker
	framer     *LineFramer
	dispatcher *Dispatcher
	commander  *Commander
	active     *ActiveSet

	// Owned by the Run goroutine
	current  string
	pending  bool
	settle   <-chan time.Time
	after    func(time.Duration) <-chan time.Time
	identity Identity
	flags    map[ActiveFlag]bool
	lastSeen time.Time

	requests chan stateRequest
	jobs     chan commandJob
	ready    chan struct{}
	stopped  chan struct{}
	runOnce  sync.Once

	mu    sync.RWMutex
	snap  Snapshot
	stats *Statistics

	obsMu     sync.Mutex
	observers map[uint64]any
	nextObs   uint64
}

// NewEngine creates an engine speaking over rw.
func NewEngine(rw io.ReadWriter, sensors *Registry, catalog *Catalog, opts Options) *Engine {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.OffPolicy == "" {
		opts.OffPolicy = OffIgnore
	}
	e := &Engine{
		rw:        rw,
		opts:      opts,
		log:       opts.Logger,
		sensors:   sensors,
		catalog:   catalog,
		tracker:   NewSectionTracker(catalog.Sections()),
		framer:    NewLineFramer(opts.MaxLineLength),
		active:    NewActiveSet(),
		current:   StateDisarmed,
		after:     time.After,
		flags:     map[ActiveFlag]bool{},
		requests:  make(chan stateRequest),
		jobs:      make(chan commandJob),
		ready:     make(chan struct{}),
		stopped:   make(chan struct{}),
		stats:     NewStatistics(),
		observers: map[uint64]any{},
	}
	e.commander = NewCommander(rw, opts.PIN, opts.CommandTimeout, e.log)
	e.dispatcher = NewDispatcher(
		telegramRoutes(e.onAck, e.onVersion, e.onState, e.onSectionFlag, e.onSensorState),
		e.commander.ResponseArrived,
		e.log,
	)
	e.publish()
	return e
}

// Sensors returns the sensor registry.
func (e *Engine) Sensors() *Registry { return e.sensors }

// Catalog returns the alarm state catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Ready is closed once VER, PRFSTATE and STATE have been answered.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// WaitReady blocks until the engine is ready, ctx is done or Run returns.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// State returns the current overall alarm state.
func (e *Engine) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.State
}

// Identity returns the panel identification.
func (e *Engine) Identity() Identity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Identity
}

// ActiveSensors returns the ids of the currently active sensors.
func (e *Engine) ActiveSensors() []int {
	return e.active.IDs()
}

// Snapshot returns a copy of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	snap := e.snap
	snap.Sections = make(map[int]SectionState, len(e.snap.Sections))
	for s, st := range e.snap.Sections {
		snap.Sections[s] = st
	}
	snap.Flags = append([]ActiveFlag(nil), e.snap.Flags...)
	e.mu.RUnlock()
	snap.ActiveSensors = e.active.IDs()
	snap.Ready = e.isReady()
	return snap
}

// Stats returns a copy of the protocol statistics.
func (e *Engine) Stats() Statistics {
	e.mu.RLock()
	st := *e.stats
	e.mu.RUnlock()
	st.CommandsSent, st.CommandTimeouts = e.commander.Counters()
	return st
}

// Attach registers obs for every observer interface it implements
// (StateObserver, FlagObserver, TelegramObserver). Observers run on the
// engine goroutine and must not block. The returned function detaches it.
func (e *Engine) Attach(obs any) (detach func()) {
	e.obsMu.Lock()
	key := e.nextObs
	e.nextObs++
	e.observers[key] = obs
	e.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.obsMu.Lock()
			delete(e.observers, key)
			e.obsMu.Unlock()
		})
	}
}

func (e *Engine) snapshotObservers() []any {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	keys := make([]uint64, 0, len(e.observers))
	for k := range e.observers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.observers[k])
	}
	return out
}

// Run drives the session until ctx is done or the transport fails. It may
// be called once. The caller closes the transport after Run returns.
func (e *Engine) Run(ctx context.Context) error {
	err := ErrStopped
	e.runOnce.Do(func() {
		err = e.run(ctx)
	})
	return err
}

func (e *Engine) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(e.stopped)

	e.log.Info().Msg("RS-485 connection established")

	reads := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go e.readLoop(ctx, reads, readErr)
	go e.commandLoop(ctx)

	initDone := make(chan error, 1)
	go func() { initDone <- e.initialize(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data := <-reads:
			e.feed(data)

		case err := <-readErr:
			e.log.Error().Err(err).Msg("RS-485 connection lost")
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)

		case err := <-initDone:
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			initDone = nil

		case <-e.settle:
			e.settle = nil
			e.reconcile()

		case req := <-e.requests:
			req.reply <- e.plan(req.target)
		}
	}
}

func (e *Engine) readLoop(ctx context.Context, out chan<- []byte, errc chan<- error) {
	buf := make([]byte, 128)
	for {
		n, err := e.rw.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- data:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			select {
			case errc <- err:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (e *Engine) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			job.reply <- e.execute(ctx, job.commands)
		}
	}
}

func (e *Engine) execute(ctx context.Context, commands []command) error {
	for _, c := range commands {
		var err error
		if c.auth {
			err = e.commander.SendAuthenticated(ctx, c.text)
		} else {
			err = e.commander.Send(ctx, c.text)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// submit queues commands on the command goroutine and waits for them.
func (e *Engine) submit(ctx context.Context, commands ...command) error {
	job := commandJob{commands: commands, reply: make(chan error, 1)}
	select {
	case e.jobs <- job:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.reply:
		return err
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) initialize(ctx context.Context) error {
	err := e.submit(ctx,
		command{text: CmdVersion},
		command{text: CmdSensorState},
		command{text: CmdState},
	)
	if err != nil {
		return err
	}
	close(e.ready)
	e.log.Info().Msg("Jablotron RS-485 protocol initiated")
	return nil
}

// Query sends a read-only command such as VER, STATE or PRFSTATE.
func (e *Engine) Query(ctx context.Context, text string) error {
	if !e.isReady() {
		return ErrNotReady
	}
	return e.submit(ctx, command{text: text})
}

// SetAlarmState moves the panel to the named catalog state. It fails with
// *UnknownStateError without touching the transport if the name is unknown.
// The section sets are computed on the engine goroutine and the commands run
// on the command goroutine; SetAlarmState returns once they complete.
func (e *Engine) SetAlarmState(ctx context.Context, name string) error {
	target, err := e.catalog.Lookup(name)
	if err != nil {
		return err
	}
	if !e.isReady() {
		return ErrNotReady
	}

	req := stateRequest{target: target, reply: make(chan StatePlan, 1)}
	select {
	case e.requests <- req:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	plan := <-req.reply

	e.log.Info().
		Str("target", plan.Target).
		Ints("disarm", plan.Disarm).
		Ints("arm", plan.Arm).
		Ints("arm_partial", plan.ArmPartial).
		Msg("Setting alarm state")

	return e.submit(ctx, plan.commands()...)
}

// plan computes the section sets for target from the tracked sections.
func (e *Engine) plan(target *AlarmState) StatePlan {
	p := StatePlan{
		Target:     target.Name,
		Arm:        target.SectionsIn(SectionArmed),
		ArmPartial: target.SectionsIn(SectionPartiallyArmed),
	}
	for _, s := range e.tracker.Sections() {
		if _, ok := target.Sections[s]; !ok {
			p.Disarm = append(p.Disarm, s)
		}
	}
	return p
}

func (e *Engine) feed(data []byte) {
	for _, line := range e.framer.Feed(data) {
		if line != "" {
			e.log.Debug().Str("line", line).Msg("←")
			e.lastSeen = time.Now()
		}
		route, result := e.dispatcher.Dispatch(line)
		e.count(func(s *Statistics) { s.Update(result) })
		if result != DispatchIgnored {
			for _, obs := range e.snapshotObservers() {
				if o, ok := obs.(TelegramObserver); ok {
					o.TelegramReceived(line, route, result)
				}
			}
		}
	}
	overflows := e.framer.Overflows()
	e.count(func(s *Statistics) { s.Overflows = overflows })
	e.publish()
}

// publish copies the loop-owned state into the shared snapshot.
func (e *Engine) publish() {
	flags := make([]ActiveFlag, 0, len(e.flags))
	for f := range e.flags {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].Section != flags[j].Section {
			return flags[i].Section < flags[j].Section
		}
		return flags[i].Flag < flags[j].Flag
	})

	e.mu.Lock()
	e.snap.State = e.current
	e.snap.Identity = e.identity
	e.snap.Sections = e.tracker.Snapshot()
	e.snap.Flags = flags
	e.snap.LastTelegram = e.lastSeen
	e.mu.Unlock()
}

func (e *Engine) count(fn func(s *Statistics)) {
	e.mu.Lock()
	fn(e.stats)
	e.mu.Unlock()
}

func joinSections(sections []int) string {
	out := make([]byte, 0, len(sections)*3)
	for i, s := range sections {
		if i > 0 {
			out = append(out, ' ')
		}
		out = fmt.Appendf(out, "%d", s)
	}
	return string(out)
}
