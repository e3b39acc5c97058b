package model

// Acquire marks the model as held by a simulation. While held, Add,
// SetInput, batch commits and Delete fail with ErrSimulationActive. Only
// one holder is allowed at a time.
func (m *Model) Acquire() error {
	if m.running {
		return ErrReentrantWrite
	}
	if m.simulating {
		return ErrSimulationActive
	}
	m.simulating = true
	return nil
}

// Release ends the hold taken by Acquire.
func (m *Model) Release() {
	m.simulating = false
}

// Held reports whether a simulation holds the model.
func (m *Model) Held() bool { return m.simulating }
