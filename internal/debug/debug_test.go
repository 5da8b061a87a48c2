package debug

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func capture(t *testing.T, level int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(level)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init(LevelOff)
	})
	return &buf
}

func TestLevels(t *testing.T) {
	cases := []struct {
		level int
		want  []string
		not   []string
	}{
		{LevelOff, nil, []string{"[INFO]", "[WARN]", "[LIVE]"}},
		{LevelInfo, []string{"[INFO] plan", "[WARN] clamped", "[ERROR] boom"}, []string{"[LIVE]", "[VERBOSE]"}},
		{LevelLive, []string{"[LIVE] exposure 700 us: trigger to exposure start 250µs"}, []string{"[VERBOSE]", "[GPIO]"}},
		{LevelVerbose, []string{"[VERBOSE] ExposureTime set successfully to 700", "Step 2: Opening camera"}, []string{"[GPIO]"}},
		{LevelTrace, []string{"[GPIO] ReadPin pin=23 value=1"}, nil},
	}
	for _, tc := range cases {
		buf := capture(t, tc.level)
		Info("plan")
		Warn("clamped")
		Error(errors.New("boom"))
		Delay(700, 250*time.Microsecond)
		Feature("ExposureTime", 700)
		Step(2, "Opening camera")
		GPIO("ReadPin", 23, "1")

		out := buf.String()
		for _, w := range tc.want {
			if !strings.Contains(out, w) {
				t.Errorf("level %d: output missing %q:\n%s", tc.level, w, out)
			}
		}
		for _, n := range tc.not {
			if strings.Contains(out, n) {
				t.Errorf("level %d: output has %q:\n%s", tc.level, n, out)
			}
		}
	}
}

func TestPrefixAndEnabled(t *testing.T) {
	buf := capture(t, LevelLive)
	Attempt(1, 3, 2, 10, 800)
	if !strings.HasPrefix(buf.String(), "[spintiming] ") {
		t.Errorf("output %q lacks the prefix", buf.String())
	}
	if !strings.Contains(buf.String(), "Setting 1/3 (800 us), repetition 2/10") {
		t.Errorf("attempt line = %q", buf.String())
	}
	if !IsEnabled(LevelLive) || IsEnabled(LevelVerbose) {
		t.Errorf("IsEnabled wrong at level %d", Level())
	}
}
