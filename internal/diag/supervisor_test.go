package diag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/breeze-rmm/overlay/internal/clock"
)

type fakeProcs struct {
	running   bool
	killErr   error
	launchErr error
	calls     []string
}

func (f *fakeProcs) Kill(_ context.Context, name string) (int, error) {
	f.calls = append(f.calls, "kill "+name)
	n := 0
	if f.running {
		n = 1
	}
	f.running = false
	return n, f.killErr
}

func (f *fakeProcs) Running(_ context.Context, name string) (bool, error) {
	f.calls = append(f.calls, "running "+name)
	return f.running, nil
}

func (f *fakeProcs) Launch(exe string) error {
	f.calls = append(f.calls, "launch "+exe)
	if f.launchErr == nil {
		f.running = true
	}
	return f.launchErr
}

func TestRestart(t *testing.T) {
	tests := []struct {
		name    string
		procs   *fakeProcs
		wantErr bool
	}{
		{"running", &fakeProcs{running: true}, false},
		{"not running", &fakeProcs{}, false},
		{"kill fails", &fakeProcs{running: true, killErr: errors.New("denied")}, false},
		{"launch fails", &fakeProcs{launchErr: errors.New("missing")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(time.Unix(0, 0))
			s := NewSupervisor("/opt/tools/Producer.exe", "", tt.procs, clk)
			err := s.Restart(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Restart() error = %v, wantErr %v", err, tt.wantErr)
			}
			want := []string{"kill Producer.exe", "launch /opt/tools/Producer.exe"}
			if diff := cmp.Diff(want, tt.procs.calls); diff != "" {
				t.Fatalf("process calls (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]time.Duration{RestartDelay}, clk.Sleeps()); diff != "" {
				t.Fatalf("sleeps (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRestartCancelled(t *testing.T) {
	procs := &fakeProcs{running: true}
	s := NewSupervisor("producer.exe", "", procs, clock.NewFake(time.Unix(0, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Restart(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Restart() = %v, want context.Canceled", err)
	}
	if len(procs.calls) != 1 {
		t.Fatalf("process calls = %v, want kill only", procs.calls)
	}
}

func TestRestartWithoutExecutable(t *testing.T) {
	s := NewSupervisor("", "", &fakeProcs{}, nil)
	if err := s.Restart(context.Background()); !errors.Is(err, ErrNoProducer) {
		t.Fatalf("Restart() = %v, want ErrNoProducer", err)
	}
}

func TestEnsureRunning(t *testing.T) {
	procs := &fakeProcs{}
	s := NewSupervisor("producer.exe", "OverlayProducer.exe", procs, nil)

	launched, err := s.EnsureRunning(context.Background())
	if err != nil || !launched {
		t.Fatalf("EnsureRunning() = %v, %v, want a launch", launched, err)
	}
	launched, err = s.EnsureRunning(context.Background())
	if err != nil || launched {
		t.Fatalf("EnsureRunning() = %v, %v, want no second launch", launched, err)
	}
	want := []string{"running OverlayProducer.exe", "launch producer.exe", "running OverlayProducer.exe"}
	if diff := cmp.Diff(want, procs.calls); diff != "" {
		t.Fatalf("process calls (-want +got):\n%s", diff)
	}
}
