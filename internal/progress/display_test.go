package progress

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/modegate/internal/workqueue"
)

func TestDisplay_ReportProgress(t *testing.T) {
	var buf strings.Builder
	d := New(&buf, false)

	d.ReportProgress("indexing a")
	if !strings.Contains(buf.String(), "indexing a") {
		t.Errorf("output %q missing progress text", buf.String())
	}
	if d.Reported() != 1 {
		t.Errorf("Reported = %d, want 1", d.Reported())
	}
}

func TestDisplay_ThrottlesOutput(t *testing.T) {
	var buf strings.Builder
	d := New(&buf, false)

	// Reports arriving faster than the throttle print once.
	for i := 0; i < 10; i++ {
		d.ReportProgress("burst")
	}

	if got := strings.Count(buf.String(), "burst"); got != 1 {
		t.Errorf("printed %d lines, want 1", got)
	}
	if d.Reported() != 10 {
		t.Errorf("Reported = %d, want 10", d.Reported())
	}

	time.Sleep(throttle + 10*time.Millisecond)
	d.ReportProgress("later")
	if !strings.Contains(buf.String(), "later") {
		t.Error("report after the throttle window should print")
	}
}

func TestDisplay_Quiet(t *testing.T) {
	var buf strings.Builder
	d := New(&buf, true)

	d.ReportProgress("hidden")
	if buf.Len() != 0 {
		t.Errorf("quiet display wrote %q", buf.String())
	}
	if d.Reported() != 1 {
		t.Error("quiet display still counts reports")
	}
}

func TestDisplay_StopRequest(t *testing.T) {
	d := New(&strings.Builder{}, true)

	if err := d.CheckCancelled(); err != nil {
		t.Errorf("CheckCancelled before stop: %v", err)
	}

	d.RequestStop()
	err := d.CheckCancelled()
	if err == nil {
		t.Fatal("CheckCancelled after stop should error")
	}
	if !errors.Is(err, workqueue.ErrCancelled) {
		t.Errorf("stop error %v should be the silent-stop signal", err)
	}
}
