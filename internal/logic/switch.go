package logic

const (
	// SwitchDeadzoneUs is the band either side of a switch threshold.
	SwitchDeadzoneUs = 100

	// SwitchConfirmSamples is how many consecutive agreeing readings flip a switch.
	SwitchConfirmSamples = 3
)

// Switch turns a PWM channel into a debounced on/off switch.
//
// While off, a reading must exceed threshold+deadzone to count as on; while
// on, it must drop below threshold-deadzone to count as off. The state flips
// only after SwitchConfirmSamples consecutive readings disagree with it.
type Switch struct {
	thresholdUs int64
	on          bool
	streak      int
}

// NewSwitch creates a switch that starts off.
func NewSwitch(thresholdUs uint32) *Switch {
	return &Switch{thresholdUs: int64(thresholdUs)}
}

// Update folds in one reading and returns the debounced state.
func (s *Switch) Update(us uint32) bool {
	var above bool
	if s.on {
		above = int64(us) >= s.thresholdUs-SwitchDeadzoneUs
	} else {
		above = int64(us) > s.thresholdUs+SwitchDeadzoneUs
	}

	if above == s.on {
		s.streak = 0
		return s.on
	}

	s.streak++
	if s.streak >= SwitchConfirmSamples {
		s.on = above
		s.streak = 0
	}
	return s.on
}

// On returns the debounced state.
func (s *Switch) On() bool {
	return s.on
}
