// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

import (
	"regexp"

	"github.com/rs/zerolog"
)

// Response patterns, matched against the whole telegram.
const (
	PatternUnimportant = `OK|STATE:`
	PatternVersion     = `([^,]+), SN:(.*), SWV:(.*), HWV:(.*)`
	PatternState       = `STATE ([0-9]+) (READY|ARMED_PART|ARMED|SERVICE|BLOCKED|OFF)`
	PatternFlag        = `(INTERNAL_WARNING|EXTERNAL_WARNING|FIRE_ALARM|INTRUDER_ALARM|PANIC_ALARM|ENTRY|EXIT) ([0-9]+) (ON|OFF)`
	PatternSensorState = `PRFSTATE ([0-9A-Z]+)`
)

// Route names
const (
	RouteAck     = "ack"
	RouteVersion = "version"
	RouteState   = "state"
	RouteFlag    = "flag"
	RouteSensors = "sensors"
)

// telegramRoutes lists the response grammar in match order. OK is matched by
// the acknowledgement route before anything else.
func telegramRoutes(ack, version, state, flag, sensors HandlerFunc) []Route {
	return []Route{
		{Name: RouteAck, Pattern: PatternUnimportant, Handler: ack},
		{Name: RouteVersion, Pattern: PatternVersion, Handler: version},
		{Name: RouteState, Pattern: PatternState, Handler: state},
		{Name: RouteFlag, Pattern: PatternFlag, Handler: flag},
		{Name: RouteSensors, Pattern: PatternSensorState, Handler: sensors},
	}
}

var classifier = NewDispatcher(telegramRoutes(nil, nil, nil, nil, nil), nil, zerolog.Nop())

// ClassifyTelegram returns the route name for line, or "" if unrecognized.
func ClassifyTelegram(line string) string {
	return classifier.Classify(line)
}

// DispatchResult classifies what happened to a telegram.
type DispatchResult int

const (
	DispatchIgnored DispatchResult = iota
	DispatchHandled
	DispatchUnrecognized
)

func (r DispatchResult) String() string {
	switch r {
	case DispatchIgnored:
		return "IGNORED"
	case DispatchHandled:
		return "HANDLED"
	case DispatchUnrecognized:
		return "UNRECOGNIZED"
	default:
		return "UNKNOWN"
	}
}

// HandlerFunc receives the capture groups of its pattern.
type HandlerFunc func(args ...string)

// Route binds a pattern to its handler.
type Route struct {
	Name    string
	Pattern string
	Handler HandlerFunc
}

type route struct {
	name    string
	re      *regexp.Regexp
	handler HandlerFunc
}

// Dispatcher matches telegrams against an ordered list of routes and runs
// the first one that matches.
type Dispatcher struct {
	routes   []route
	onSignal func()
	log      zerolog.Logger
}

// NewDispatcher compiles routes in order. Patterns are anchored to the whole
// line. onSignal runs after every non-empty telegram, recognised or not.
func NewDispatcher(routes []Route, onSignal func(), log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{onSignal: onSignal, log: log}
	for _, r := range routes {
		d.routes = append(d.routes, route{
			name:    r.Name,
			re:      regexp.MustCompile(`^(?:` + r.Pattern + `)$`),
			handler: r.Handler,
		})
	}
	return d
}

// Classify returns the name of the route that would handle line, or "".
func (d *Dispatcher) Classify(line string) string {
	for _, r := range d.routes {
		if r.re.MatchString(line) {
			return r.name
		}
	}
	return ""
}

// Dispatch runs the handler for line and returns the name of the route
// that handled it.
func (d *Dispatcher) Dispatch(line string) (string, DispatchResult) {
	if line == "" {
		return "", DispatchIgnored
	}
	for _, r := range d.routes {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if r.handler != nil {
			r.handler(m[1:]...)
		}
		d.signal()
		return r.name, DispatchHandled
	}
	d.log.Warn().Str("line", line).Msg("Unrecognized response, ignoring")
	d.signal()
	return "", DispatchUnrecognized
}

func (d *Dispatcher) signal() {
	if d.onSignal != nil {
		d.onSignal()
	}
}
