// Package manager owns the lifecycle of runner instances: which model each
// runner has resident, how much memory that accounts for, which instance is
// evicted when a new model does not fit, and execution admission once a
// model is ready.
//
// Files by concern:
//
//   - manager.go: Manager type, constructor, instance table.
//   - config.go: Config and defaults.
//   - ensure.go: EnsureLoaded and the load path.
//   - evict.go: memory accounting, feasibility planning and LRU eviction.
//   - admission.go: Acquire, execution leases and the in-flight slot.
//   - unload.go: administrative drain/unload and shutdown.
//   - status_report.go: Status for transports.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
//
// Locking order: instance.mu, then Manager.memMu, then Manager.mu. Victims
// are locked with TryLock only, so two loads never wait on each other's
// instance lock.
package manager
