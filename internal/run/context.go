// Package run holds the shared run/city state read by collaborators on
// their own goroutines.
package run

import (
	"sync"

	"github.com/citygrid/trafficsim/pkg/core"
)

// Context holds the active run and the loaded city layout.
type Context struct {
	mu   sync.RWMutex
	run  *core.Run
	city *core.City
}

// NewContext creates an empty run context.
func NewContext() *Context {
	return &Context{
		run:  &core.Run{},
		city: &core.City{},
	}
}

// GetRun returns the active run.
func (c *Context) GetRun() *core.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run
}

// GetCity returns the loaded city layout.
func (c *Context) GetCity() *core.City {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.city
}

// SetRun installs the active run and city.
func (c *Context) SetRun(run *core.Run, city *core.City) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run = run
	c.city = city
}
