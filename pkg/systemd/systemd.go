// Package systemd reports service state to the systemd manager. Every call is
// a no-op when the process was not started with NOTIFY_SOCKET.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. The zero value uses daemon.SdNotify.
type Notifier struct {
	send func(unsetEnv bool, state string) (bool, error)
}

func (n Notifier) notify(state string) (bool, error) {
	if n.send != nil {
		return n.send(false, state)
	}
	return daemon.SdNotify(false, state)
}

// Ready reports startup completion. ok is false when not under systemd.
func (n Notifier) Ready() (bool, error) { return n.notify(daemon.SdNotifyReady) }

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(msg string) (bool, error) { return n.notify("STATUS=" + msg) }

// Stopping reports that shutdown has begun.
func (n Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }
