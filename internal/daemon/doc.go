// Package daemon coordinates the long-running quarantine process.
//
// It wires the queue store, the ingestion watcher, the workflow manager and
// the read-only status API into a single lifecycle with flock-based locking
// to prevent multiple instances. Start recovers entries interrupted by a
// previous crash before any worker claims new work, and Wait surfaces fatal
// failures of the background services so the process can exit non-zero.
//
// Keep orchestration logic here: individual pipeline steps live in their
// respective packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
