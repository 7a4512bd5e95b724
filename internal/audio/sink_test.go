package audio

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

type recordedCalls struct {
	calls []string
}

// shell answers every pactl call by running script under sh.
func (r *recordedCalls) shell(t *testing.T, script string) CommandFunc {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		r.calls = append(r.calls, name+" "+strings.Join(args, " "))
		return exec.CommandContext(ctx, sh, "-c", script)
	}
}

func TestCreateAndRemoveSink(t *testing.T) {
	rec := &recordedCalls{}
	sinks := NewSinks("", "overlay", WithCommandFunc(rec.shell(t, "echo 27")))

	sink, err := sinks.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sink.Module != 27 {
		t.Fatalf("expected module 27, got %d", sink.Module)
	}
	if !strings.HasPrefix(sink.Name, "overlay_") || len(sink.Name) != len("overlay_")+12 {
		t.Fatalf("unexpected sink name %q", sink.Name)
	}
	if sink.Monitor() != sink.Name+".monitor" {
		t.Fatalf("unexpected monitor %q", sink.Monitor())
	}

	other, err := sinks.Create(context.Background())
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if other.Name == sink.Name {
		t.Fatal("expected distinct sinks per call")
	}

	if err := sinks.Remove(context.Background(), sink); err != nil {
		t.Fatalf("remove: %v", err)
	}
	want := []string{
		"pactl load-module module-null-sink sink_name=" + sink.Name + " sink_properties=device.description=" + sink.Name,
		"pactl load-module module-null-sink sink_name=" + other.Name + " sink_properties=device.description=" + other.Name,
		"pactl unload-module 27",
	}
	if strings.Join(rec.calls, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected calls\n got: %q\nwant: %q", rec.calls, want)
	}
}

func TestCreateSinkFailures(t *testing.T) {
	cases := []struct {
		name   string
		script string
	}{
		{name: "pactl fails", script: "echo 'Connection failure' >&2; exit 1"},
		{name: "garbage output", script: "echo ready"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recordedCalls{}
			sinks := NewSinks("pactl", "", WithCommandFunc(rec.shell(t, tc.script)))
			if _, err := sinks.Create(context.Background()); !errors.Is(err, ErrSinkUnavailable) {
				t.Fatalf("expected ErrSinkUnavailable, got %v", err)
			}
		})
	}
}

func TestRemoveZeroSinkIsNoop(t *testing.T) {
	rec := &recordedCalls{}
	sinks := NewSinks("", "", WithCommandFunc(rec.shell(t, "exit 1")))
	if err := sinks.Remove(context.Background(), Sink{}); err != nil {
		t.Fatalf("remove zero sink: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("expected no pactl calls, got %q", rec.calls)
	}
	if (Sink{}).Monitor() != "" {
		t.Fatal("zero sink has no monitor")
	}
}
