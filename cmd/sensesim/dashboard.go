package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// dashboard renders the simulation on a full-screen terminal layout: a stats
// block, labeled decisions, channel moves, and the system log.
type dashboard struct {
	app        *tview.Application
	statsView  *tview.TextView
	labelView  *tview.TextView
	moveView   *tview.TextView
	systemView *tview.TextView
	labelLines []string
	moveLines  []string
	paneMu     sync.Mutex
	events     chan paneEvent
	closed     atomic.Bool
	ready      chan struct{}
}

const paneMaxLines = 8

type paneType int

const (
	paneLabel paneType = iota
	paneMove
)

type paneEvent struct {
	pane paneType
	line string
}

func newDashboard(enable bool) *dashboard {
	if !enable {
		return nil
	}

	makePane := func(title string) *tview.TextView {
		tv := tview.NewTextView().
			SetDynamicColors(true).
			SetWrap(false)
		tv.SetTitle(title).SetTitleAlign(tview.AlignLeft).SetBorder(true)
		return tv
	}

	stats := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	stats.SetTextColor(tcell.ColorYellow)
	labelPane := makePane("Labeled Decisions")
	movePane := makePane("Channel Moves")
	systemPane := makePane("System")
	systemPane.SetTextColor(tcell.ColorYellow)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(stats, 0, 1, false).
		AddItem(labelPane, paneMaxLines+2, 0, false).
		AddItem(movePane, paneMaxLines+2, 0, false).
		AddItem(systemPane, paneMaxLines+2, 0, false)

	app := tview.NewApplication().SetRoot(layout, true).EnableMouse(false)
	ready := make(chan struct{})
	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(ready) })
		return false
	})
	d := &dashboard{
		app:        app,
		statsView:  stats,
		labelView:  labelPane,
		moveView:   movePane,
		systemView: systemPane,
		events:     make(chan paneEvent, 256),
		ready:      ready,
	}

	go d.runEventLoop()

	go func() {
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
	}()

	return d
}

func (d *dashboard) Stop() {
	if d == nil || d.app == nil {
		return
	}
	if d.closed.Swap(true) {
		return
	}
	close(d.events)
	d.app.Stop()
}

func (d *dashboard) WaitReady() {
	if d == nil || d.ready == nil {
		return
	}
	<-d.ready
}

func (d *dashboard) SetStats(lines []string) {
	if d == nil || d.closed.Load() {
		return
	}
	text := strings.Join(lines, "\n")
	d.app.QueueUpdateDraw(func() {
		d.statsView.SetText(text)
	})
}

func (d *dashboard) AppendLabel(line string) {
	d.enqueue(paneLabel, line)
}

func (d *dashboard) AppendMove(line string) {
	d.enqueue(paneMove, line)
}

func (d *dashboard) enqueue(p paneType, line string) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.events <- paneEvent{pane: p, line: line}:
	default:
		// UI is behind; drop rather than stall the simulation.
	}
}

// SystemWriter returns a writer for the system pane, suitable as the log
// console.
func (d *dashboard) SystemWriter() *paneWriter {
	if d == nil {
		return nil
	}
	return &paneWriter{view: d.systemView, app: d.app}
}

type paneWriter struct {
	view *tview.TextView
	app  *tview.Application
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.view == nil {
		return len(p), nil
	}
	text := string(p)
	if w.app == nil {
		fmt.Fprint(w.view, text)
		return len(p), nil
	}
	w.app.QueueUpdateDraw(func() {
		fmt.Fprint(w.view, text)
		w.view.ScrollToEnd()
	})
	return len(p), nil
}

func (d *dashboard) runEventLoop() {
	for ev := range d.events {
		d.appendLine(ev.pane, ev.line)
	}
}

func (d *dashboard) appendLine(p paneType, line string) {
	tsLine := time.Now().Format("15:04:05 ") + line

	d.paneMu.Lock()
	buf, view := &d.moveLines, d.moveView
	if p == paneLabel {
		buf, view = &d.labelLines, d.labelView
	}
	*buf = append(*buf, tsLine)
	if len(*buf) > paneMaxLines {
		*buf = (*buf)[len(*buf)-paneMaxLines:]
	}
	text := strings.Join(*buf, "\n")
	d.paneMu.Unlock()

	if view == nil || d.app == nil {
		return
	}
	d.app.QueueUpdateDraw(func() {
		view.SetText(text)
		view.ScrollToEnd()
	})
}
