package tracer

// Option configures a Recorder.
type Option func(*resolvedOptions)

// resolvedOptions holds all tuning knobs after applying defaults.
// Callers configure it through the With* functions.
type resolvedOptions struct {
	bufferCapacity   int
	drainThreshold   float64
	registryCapacity int
	clockHz          uint64
	clock            Clock
	guard            CriticalSection
}

func defaultOptions() resolvedOptions {
	return resolvedOptions{
		bufferCapacity:   DefaultBufferCapacity,
		drainThreshold:   DefaultDrainThreshold,
		registryCapacity: DefaultRegistryCapacity,
		clockHz:          DefaultClockHz,
	}
}

// WithBufferCapacity sets the event buffer size in records. The buffer is
// allocated once at construction; Record never grows it.
func WithBufferCapacity(records int) Option {
	return func(o *resolvedOptions) { o.bufferCapacity = records }
}

// WithDrainThreshold sets the buffer occupancy fraction that triggers a
// synchronous drain, in (0, 1]. Lower values drain more often in smaller
// bursts; 1.0 drains only when the buffer is full.
func WithDrainThreshold(fraction float64) Option {
	return func(o *resolvedOptions) { o.drainThreshold = fraction }
}

// WithRegistryCapacity sets the maximum number of registered objects.
// Registrations past the capacity are refused.
func WithRegistryCapacity(n int) Option {
	return func(o *resolvedOptions) { o.registryCapacity = n }
}

// WithClock replaces the default monotonic-derived clock. Device ports
// inject their hardware cycle counter here.
func WithClock(c Clock) Option {
	return func(o *resolvedOptions) { o.clock = c }
}

// WithClockRate sets the rate in Hz of the default clock. Ignored when
// WithClock is also given.
func WithClockRate(hz uint64) Option {
	return func(o *resolvedOptions) { o.clockHz = hz }
}

// WithCriticalSection replaces the default MutexGuard. Single-context
// callers can pass NopGuard{} to remove the locking cost.
func WithCriticalSection(cs CriticalSection) Option {
	return func(o *resolvedOptions) { o.guard = cs }
}
