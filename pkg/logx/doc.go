// Package logx is gcontrib's logging layer on top of zerolog: a small
// Logger value with typed fields, and a Service whose sinks (stderr console,
// JSON file) can be swapped while the daemon runs.
package logx
