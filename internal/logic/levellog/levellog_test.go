package levellog

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
)

// syncBuffer guards a bytes.Buffer shared with the logger goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestRun_PrintsInitialAndChanges(t *testing.T) {
	drv := gpio.NewMockDriver()
	clk := clock.NewManual(0)
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := Run(ctx, drv, Config{Pin: 23, Poll: 100 * time.Microsecond}, clk, out)
		done <- result{n, err}
	}()

	waitLines := func(n int) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if l := out.lines(); len(l) >= n && l[0] != "" {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d lines, have %q", n, out.lines())
	}

	waitLines(1)
	clk.Set(100)
	drv.SetLevel(23, gpio.High)
	waitLines(2)
	clk.Set(250)
	drv.SetLevel(23, gpio.Low)
	waitLines(3)
	cancel()

	r := <-done
	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.n != 2 {
		t.Errorf("changes = %d, want 2", r.n)
	}
	want := []string{"0 0", "100 1", "250 0"}
	got := out.lines()
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_ReadErrorAfterClose(t *testing.T) {
	drv := gpio.NewMockDriver()
	_ = drv.Close()
	if _, err := Run(context.Background(), drv, Config{Pin: 23}, clock.NewMonotonic(), &bytes.Buffer{}); err == nil {
		t.Error("expected error reading a closed driver")
	}
}

func TestRun_SetsPull(t *testing.T) {
	drv := gpio.NewMockDriver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, drv, Config{Pin: 23, Pull: gpio.PullUp}, clock.NewManual(0), &bytes.Buffer{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if drv.PullOf(23) != gpio.PullUp {
		t.Errorf("pull = %v, want up", drv.PullOf(23))
	}
}

// plainDriver hides the pull control of the wrapped driver.
type plainDriver struct{ gpio.Driver }

func TestRun_PullUnsupportedIsWarning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	drv := plainDriver{gpio.NewMockDriver()}
	if _, err := Run(ctx, drv, Config{Pin: 23, Pull: gpio.PullUp}, clock.NewManual(0), &out); err != nil {
		t.Fatalf("Run: %v, want only a warning", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out.String()), " 0") {
		t.Errorf("initial level line missing: %q", out.String())
	}
}
