package safety

// Debouncer counts consecutive unsafe readings. A condition is reported
// unsafe only once the count reaches the threshold; any safe reading
// resets the count to zero.
type Debouncer struct {
	threshold uint
	count     uint
}

// NewDebouncer creates a Debouncer. A threshold of 0 is treated as 1.
func NewDebouncer(threshold uint) *Debouncer {
	if threshold == 0 {
		threshold = 1
	}
	return &Debouncer{threshold: threshold}
}

// Observe records one reading and reports whether the condition should now
// be treated as unsafe.
func (d *Debouncer) Observe(unsafe bool) bool {
	if !unsafe {
		d.count = 0
		return false
	}
	if d.count < d.threshold {
		d.count++
	}
	return d.count >= d.threshold
}

// Count returns the current number of consecutive unsafe readings,
// saturated at the threshold.
func (d *Debouncer) Count() uint {
	return d.count
}

// Threshold returns the configured threshold.
func (d *Debouncer) Threshold() uint {
	return d.threshold
}
