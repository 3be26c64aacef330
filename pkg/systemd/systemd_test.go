package systemd

import (
	"testing"
)

func TestNotifierMessages(t *testing.T) {
	var got []string
	n := Notifier{send: func(_ bool, state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}}
	_, _ = n.Ready()
	_, _ = n.Status("next run 21:00")
	_, _ = n.Stopping()

	want := []string{"READY=1", "STATUS=next run 21:00", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotifierWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	ok, err := Notifier{}.Ready()
	if err != nil || ok {
		t.Fatalf("Ready() = %v, %v; want false, nil", ok, err)
	}
}
