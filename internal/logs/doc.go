// Package logs reads the daemon log for `quarantine logs`.
//
// Tail returns the last lines of the current log with bounded memory and the
// byte offset it stopped at. Follow streams lines appended after an offset,
// waking on fsnotify events instead of polling, and starts over from the top
// when the file is truncated or the current-log link moves to a new run.
package logs
