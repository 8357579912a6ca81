// Package sandbox runs untrusted helper commands with no network access and
// without elevated privileges, under a hard timeout.
//
// Executor is the only contract the dispatcher depends on. ProcessExecutor
// isolates a child process with Linux namespaces and credential changes;
// ContainerExecutor delegates to a docker or podman CLI. Both report failures
// through the services error taxonomy so callers can decide between retrying
// and failing an entry without knowing which implementation ran.
package sandbox
