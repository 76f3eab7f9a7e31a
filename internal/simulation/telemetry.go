package simulation

import (
	"github.com/sirupsen/logrus"
	"github.com/smartcity/intersection-sim/internal/domain"
)

// Listener receives simulator output.
//
// OnDemand is called synchronously within a tick, once per vehicle that sits in
// its demand zone while its axis is not green. A tick with three such NS
// vehicles therefore produces three OnDemand(AxisNS) calls. OnStats is called
// on the throttled stats schedule. Neither call is buffered or retried, and a
// panic inside a callback is recovered and logged instead of reaching the loop.
// Implementations must not block.
type Listener interface {
	OnDemand(axis domain.Axis)
	OnStats(stats domain.Stats)
}

// ListenerFuncs adapts optional plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Demand func(axis domain.Axis)
	Stats  func(stats domain.Stats)
}

func (f ListenerFuncs) OnDemand(axis domain.Axis) {
	if f.Demand != nil {
		f.Demand(axis)
	}
}

func (f ListenerFuncs) OnStats(stats domain.Stats) {
	if f.Stats != nil {
		f.Stats(stats)
	}
}

// MultiListener fans events out to several listeners in order
type MultiListener []Listener

func (m MultiListener) OnDemand(axis domain.Axis) {
	for _, l := range m {
		if l != nil {
			l.OnDemand(axis)
		}
	}
}

func (m MultiListener) OnStats(stats domain.Stats) {
	for _, l := range m {
		if l != nil {
			l.OnStats(stats)
		}
	}
}

// emitter isolates the tick from listener failures
type emitter struct {
	listener Listener
	log      *logrus.Entry
}

func newEmitter(listener Listener) *emitter {
	return &emitter{
		listener: listener,
		log:      logrus.WithField("module", "telemetry"),
	}
}

func (e *emitter) demand(axis domain.Axis) {
	if e.listener == nil {
		return
	}
	defer e.guard("OnDemand")
	e.listener.OnDemand(axis)
}

func (e *emitter) stats(stats domain.Stats) {
	if e.listener == nil {
		return
	}
	defer e.guard("OnStats")
	e.listener.OnStats(stats)
}

func (e *emitter) guard(callback string) {
	if r := recover(); r != nil {
		e.log.Errorf("%s listener panicked, event dropped: %v", callback, r)
	}
}
