package wrapped

import "testing"

func TestCanTransitionToFollowsLifecycle(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateNew, StateDownloading, true},
		{StateNew, StateReady, false},
		{StateDownloading, StateStarting, true},
		{StateDownloading, StateFailed, true},
		{StateStarting, StateReady, true},
		{StateStarting, StateFailed, true},
		{StateReady, StateStopping, true},
		{StateReady, StateFailed, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateStarting, false},
		{StateFailed, StateReady, false},
	}
	for _, c := range cases {
		if got := c.from.canTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStateStringIsHumanReadable(t *testing.T) {
	if StateReady.String() != "ready" {
		t.Errorf("got %q", StateReady.String())
	}
}
