package audio

import (
	"errors"
	"os/exec"
	"reflect"
	"testing"
	"time"
)

func TestFakePlayer(t *testing.T) {
	f := NewFakePlayer()

	if err := f.Play(ChannelEngine, "start.wav", PlayOptions{Volume: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.IsPlaying(ChannelEngine) {
		t.Error("engine channel should be playing")
	}
	if f.IsPlaying(ChannelGun) {
		t.Error("gun channel should be idle")
	}

	f.Finish(ChannelEngine)
	if f.IsPlaying(ChannelEngine) {
		t.Error("engine channel should be idle after Finish")
	}

	f.Play(ChannelGun, "gun.wav", PlayOptions{Loop: true})
	f.Stop(ChannelGun, StopAfterFinish)
	if !f.IsPlaying(ChannelGun) {
		t.Error("after-finish stop should leave the channel playing")
	}
	f.Stop(ChannelGun, StopImmediate)
	if f.IsPlaying(ChannelGun) {
		t.Error("immediate stop should idle the channel")
	}

	calls := f.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(calls))
	}
	if calls[1].Op != "play" || !calls[1].Opts.Loop || calls[1].Sound != "gun.wav" {
		t.Errorf("call 1: got %+v", calls[1])
	}
	if calls[3].Op != "stop" || calls[3].Mode != StopImmediate {
		t.Errorf("call 3: got %+v", calls[3])
	}

	f.Reset()
	if len(f.Calls()) != 0 {
		t.Error("Reset should clear calls")
	}
}

func TestFakePlayerErrors(t *testing.T) {
	f := NewFakePlayer()
	if err := f.Play(ChannelGun, "", PlayOptions{}); !errors.Is(err, ErrNoSound) {
		t.Errorf("expected ErrNoSound, got %v", err)
	}
	f.PlayError = errors.New("device busy")
	if err := f.Play(ChannelGun, "x.wav", PlayOptions{}); err == nil {
		t.Error("expected PlayError")
	}
}

func TestStopModeString(t *testing.T) {
	if StopImmediate.String() != "immediate" || StopAfterFinish.String() != "after-finish" {
		t.Error("unexpected StopMode strings")
	}
}

func TestExecArgs(t *testing.T) {
	p := NewExecPlayer(ExecConfig{Command: "mpg123", Args: []string{"-q"}, OffsetFlag: "-k", VolumeFlag: "-f"})

	got := p.args("a.mp3", PlayOptions{Volume: 0.5, StartOffset: 1500 * time.Millisecond})
	want := []string{"-q", "-k", "1.500", "-f", "0.50", "a.mp3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	plain := NewExecPlayer(ExecConfig{Command: "aplay"})
	got = plain.args("a.wav", PlayOptions{Volume: 1, StartOffset: time.Second})
	if !reflect.DeepEqual(got, []string{"a.wav"}) {
		t.Errorf("got %v, want [a.wav]", got)
	}
}

// The exec tests use sleep as the "player": the sound is the duration.
func sleepPlayer(t *testing.T) *ExecPlayer {
	t.Helper()
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	p := NewExecPlayer(ExecConfig{Command: "sleep"})
	t.Cleanup(func() { p.Close() })
	return p
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestExecPlayerFinishes(t *testing.T) {
	p := sleepPlayer(t)

	if err := p.Play(ChannelEngine, "0.05", PlayOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsPlaying(ChannelEngine) {
		t.Fatal("expected channel to be playing")
	}
	if !waitFor(func() bool { return !p.IsPlaying(ChannelEngine) }) {
		t.Error("channel did not finish")
	}
}

func TestExecPlayerStopImmediate(t *testing.T) {
	p := sleepPlayer(t)

	p.Play(ChannelGun, "10", PlayOptions{Loop: true})
	p.Stop(ChannelGun, StopImmediate)
	if p.IsPlaying(ChannelGun) {
		t.Error("channel should be idle after immediate stop")
	}
}

func TestExecPlayerLoopAndStopAfterFinish(t *testing.T) {
	p := sleepPlayer(t)

	p.Play(ChannelGun, "0.3", PlayOptions{Loop: true})
	time.Sleep(450 * time.Millisecond)
	if !p.IsPlaying(ChannelGun) {
		t.Fatal("looping channel should still be playing")
	}

	p.Stop(ChannelGun, StopAfterFinish)
	if !p.IsPlaying(ChannelGun) {
		t.Error("after-finish stop should let the pass complete")
	}
	if !waitFor(func() bool { return !p.IsPlaying(ChannelGun) }) {
		t.Error("channel did not stop after its final pass")
	}
}

func TestExecPlayerBadCommand(t *testing.T) {
	p := NewExecPlayer(ExecConfig{Command: "/nonexistent/player"})
	if err := p.Play(ChannelEngine, "a.wav", PlayOptions{}); err == nil {
		t.Error("expected start error")
	}
	if p.IsPlaying(ChannelEngine) {
		t.Error("channel should be idle")
	}
	if err := p.Play(ChannelEngine, "", PlayOptions{}); !errors.Is(err, ErrNoSound) {
		t.Errorf("expected ErrNoSound, got %v", err)
	}
}
