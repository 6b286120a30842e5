package logic

// DefaultRateHysteresisUs is the stickiness band applied around rate thresholds.
const DefaultRateHysteresisUs = 50

// MaxRatesOfFire is the largest rate table a gun accepts.
const MaxRatesOfFire = 8

// SelectRate picks the active rate for a trigger pulse width.
//
// The entry at previous has its threshold lowered by hysteresisUs and every
// other entry has it raised, so the current rate is easier to keep than to
// leave. Among entries whose adjusted threshold is met, the one with the
// highest raw threshold wins. Returns -1 when nothing qualifies. Table order
// does not matter.
func SelectRate(table []RateOfFire, pulseUs uint32, previous int, hysteresisUs uint32) int {
	best := -1
	var bestThreshold uint32
	for i, r := range table {
		effective := int64(r.PWMThresholdUs)
		if i == previous {
			effective -= int64(hysteresisUs)
		} else {
			effective += int64(hysteresisUs)
		}
		if int64(pulseUs) < effective {
			continue
		}
		if best < 0 || r.PWMThresholdUs > bestThreshold {
			best = i
			bestThreshold = r.PWMThresholdUs
		}
	}
	return best
}
