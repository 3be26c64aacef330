// Package notifier forwards scheduler events to an operator channel.
//
// The service subscribes to the event bus and turns selected events
// (day.executed, cycle.failed by default) into short text messages. Delivery
// goes through a Sender; the Telegram sender is the only real transport.
// Sends are rate limited and retried a few times; a message that still
// fails is logged and dropped, never blocking the scheduler.
package notifier
