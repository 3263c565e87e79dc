// Package mock provides a test double for the Home Assistant dispatcher.
package mock

import (
	"context"
	"sync"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/homeassistant"
)

// Dispatcher records every action it receives.
type Dispatcher struct {
	mu sync.Mutex

	// Result is returned for every call unless ResultFor overrides it.
	Result homeassistant.Result

	// Err is returned for every call when ErrFor is nil.
	Err error

	// ErrFor, when set, chooses the error per action name.
	ErrFor map[string]error

	// Notify, when set, receives each action after it is recorded.
	Notify chan command.Action

	calls []command.Action
}

// Dispatch implements the dispatcher contract.
func (d *Dispatcher) Dispatch(_ context.Context, a command.Action) (homeassistant.Result, error) {
	d.mu.Lock()
	d.calls = append(d.calls, a)
	res, err := d.Result, d.Err
	if d.ErrFor != nil {
		err = d.ErrFor[a.Name]
	}
	notify := d.Notify
	d.mu.Unlock()

	if notify != nil {
		notify <- a
	}
	if err != nil {
		return homeassistant.Result{}, err
	}
	return res, nil
}

// Calls returns a copy of the recorded actions.
func (d *Dispatcher) Calls() []command.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]command.Action, len(d.calls))
	copy(out, d.calls)
	return out
}
