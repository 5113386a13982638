// Package progress tracks the state of the running sweep so the status
// server can report it while the pipeline writes.
package progress
