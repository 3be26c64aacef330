// Package storage is the durable plan store.
//
// It owns a single SQLite file with two tables:
//   - accounts:     registered accounts (name -> repository)
//   - plan_entries: the commit plan (date -> unit count + executed flag)
//
// Every operation goes through a bounded, linear busy-retry (see RetryPolicy)
// so short-lived locks held by other local processes are tolerated. Failures
// are always returned to the caller; the store never logs and continues.
package storage
