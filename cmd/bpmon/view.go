package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/srg/bpmon/internal/connection"
	"github.com/srg/bpmon/internal/store"
	"golang.org/x/term"
)

const clearLineSequence = "\r\033[K"

var (
	stateWaiting = color.New(color.FgYellow)
	stateActive  = color.New(color.FgCyan)
	stateGood    = color.New(color.FgGreen, color.Bold)
	stateBad     = color.New(color.FgRed, color.Bold)
)

// statusView prints connection states and readings. On a terminal the state
// is a single line rewritten in place; elsewhere every state gets its own line.
type statusView struct {
	out      io.Writer
	live     bool
	lastLine string
}

func newStatusView(out io.Writer) *statusView {
	live := false
	if f, ok := out.(*os.File); ok && f == os.Stdout {
		live = term.IsTerminal(int(f.Fd()))
	}
	return &statusView{out: out, live: live}
}

func colorState(st connection.State) string {
	switch st.(type) {
	case connection.Initial:
		return st.String()
	case connection.Scanning:
		return stateWaiting.Sprint(st.String())
	case connection.DeviceFound:
		return stateActive.Sprint(st.String())
	case connection.Connected:
		return stateGood.Sprint(st.String())
	case connection.RadioOff, connection.DeviceNotFound, connection.Failed:
		return stateBad.Sprint(st.String())
	default:
		panic(fmt.Sprintf("unknown connection state %T", st))
	}
}

func (v *statusView) State(st connection.State) {
	line := "state: " + colorState(st)
	if v.live {
		v.lastLine = line
		fmt.Fprint(v.out, clearLineSequence+line)
		return
	}
	fmt.Fprintln(v.out, line)
}

func (v *statusView) Reading(r store.Reading) {
	if v.live {
		fmt.Fprint(v.out, clearLineSequence)
	}
	fmt.Fprintf(v.out, "%s  %s mmHg\n",
		formatTimestamp(r.Timestamp),
		stateGood.Sprintf("%d/%d", r.Systolic, r.Diastolic))
	if v.live && v.lastLine != "" {
		fmt.Fprint(v.out, v.lastLine)
	}
}

// Done terminates a live status line.
func (v *statusView) Done() {
	if v.live && v.lastLine != "" {
		fmt.Fprintln(v.out)
	}
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
