package differ

// Option configures a Detector.
type Option func(*detector)

// WithForceUpdate emits an update for every source record that already
// exists, bypassing the field comparison short-circuit.
func WithForceUpdate(force bool) Option {
	return func(d *detector) {
		d.forceUpdate = force
	}
}

// WithIgnoreFields excludes specific compared field paths from change
// detection.
func WithIgnoreFields(fields ...string) Option {
	return func(d *detector) {
		for _, field := range fields {
			d.ignoreFields[field] = true
		}
	}
}
