package trailing

import "sync/atomic"

// PauseFlag is the shared pause switch between the control plane and the
// trading loop. The control plane writes it, the scheduler reads it at the
// top of every session.
type PauseFlag struct {
	paused atomic.Bool
}

func (f *PauseFlag) Pause()       { f.paused.Store(true) }
func (f *PauseFlag) Resume()      { f.paused.Store(false) }
func (f *PauseFlag) Paused() bool { return f.paused.Load() }
