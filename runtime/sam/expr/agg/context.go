package agg

import (
	"github.com/vexdb/vex/pkg/arena"
)

// CallSite reports the kind of caller an aggregate support function
// is running under.
type CallSite byte

const (
	SiteNone CallSite = iota
	SiteAggregate
	SiteWindow
)

// FnContext is the support-callback surface passed to user-defined
// aggregate functions.  The executor constructs one per transition
// state and repoints its arenas as groups come and go.
type FnContext struct {
	site       CallSite
	groupArena *arena.Arena
	tempArena  *arena.Arena
	aggref     *Call
	shared     bool
}

// NewFnContext is used by the executor; tests may construct one to
// drive functions directly.
func NewFnContext(site CallSite, group, temp *arena.Arena, aggref *Call, shared bool) *FnContext {
	return &FnContext{
		site:       site,
		groupArena: group,
		tempArena:  temp,
		aggref:     aggref,
		shared:     shared,
	}
}

// CheckCallContext returns the call-site kind and, for aggregate
// calls, the current grouping-set arena.
func (c *FnContext) CheckCallContext() (CallSite, *arena.Arena) {
	if c == nil {
		return SiteNone, nil
	}
	return c.site, c.groupArena
}

// Aggref returns the aggregate call node, if any.
func (c *FnContext) Aggref() (*Call, bool) {
	if c == nil || c.aggref == nil {
		return nil, false
	}
	return c.aggref, true
}

// TempArena returns the short-lived per-tuple arena.  Pointers into
// it must not be retained past the next row boundary.
func (c *FnContext) TempArena() *arena.Arena {
	return c.tempArena
}

// StateIsShared reports whether the transition state is shared by
// more than one aggregate call, in which case the final function must
// not scribble on it.
func (c *FnContext) StateIsShared() bool {
	return c != nil && c.shared
}

// RegisterCallback registers fn on the current grouping-set arena.
// It fires when the arena is reset or destroyed.  Resource release
// after a failed pass destroys the arenas, so callbacks also run
// during that teardown; they are not run at the point of failure.
func (c *FnContext) RegisterCallback(fn func()) {
	c.groupArena.OnReset(fn)
}

// GroupArena exposes the grouping-set arena for expanded objects.
func (c *FnContext) GroupArena() *arena.Arena {
	return c.groupArena
}

// Rebind repoints the context at a new grouping-set arena and sharing
// flag.  The executor calls this at phase and table changes.
func (c *FnContext) Rebind(group *arena.Arena, shared bool) {
	c.groupArena = group
	c.shared = shared
}
