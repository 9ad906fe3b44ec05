package main

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rivo/tview"
)

func TestDisabledDashboardIsNoop(t *testing.T) {
	d := newDashboard(false)
	if d != nil {
		t.Fatalf("expected nil dashboard when disabled")
	}
	d.SetStats([]string{"x"})
	d.AppendLabel("x")
	d.AppendMove("x")
	d.WaitReady()
	d.Stop()
	if w := d.SystemWriter(); w != nil {
		t.Fatalf("expected nil system writer")
	}
}

func TestPaneKeepsLastLines(t *testing.T) {
	d := &dashboard{
		labelView: tview.NewTextView(),
		moveView:  tview.NewTextView(),
	}
	for i := 0; i < paneMaxLines+3; i++ {
		d.appendLine(paneLabel, fmt.Sprintf("label-%d", i))
	}
	d.appendLine(paneMove, "move-0")

	if len(d.labelLines) != paneMaxLines {
		t.Fatalf("expected %d label lines, got %d", paneMaxLines, len(d.labelLines))
	}
	if !strings.HasSuffix(d.labelLines[0], "label-3") {
		t.Fatalf("expected oldest lines trimmed, got %q", d.labelLines[0])
	}
	if len(d.moveLines) != 1 || !strings.HasSuffix(d.moveLines[0], "move-0") {
		t.Fatalf("unexpected move pane %q", d.moveLines)
	}
}

func TestPaneWriterWithoutApp(t *testing.T) {
	view := tview.NewTextView()
	w := &paneWriter{view: view}
	if n, err := w.Write([]byte("hello\n")); err != nil || n != 6 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if got := view.GetText(false); !strings.Contains(got, "hello") {
		t.Fatalf("expected text in view, got %q", got)
	}
}
