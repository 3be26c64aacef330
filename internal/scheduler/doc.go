// Package scheduler drives the daily cadence.
//
// Each cycle it:
//   - makes sure a plan exists for today (generating and writing one if not)
//   - executes today's units unless the store says they already ran
//   - marks the date executed
//
// Between cycles it sleeps until the next occurrence of a fixed local
// time of day. Every fact about "today" is re-read from the store each
// cycle; the service keeps no cached copy.
package scheduler
