package netmetrics

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot is the set of pending Summaries collected from all networks at one point in time.
type Snapshot struct {
	Time  time.Time
	Stats []Summary
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", s.Time.UTC().Format(time.RFC3339))
	for i := range s.Stats {
		b.WriteString("\n  ")
		b.WriteString(s.Stats[i].String())
	}
	return b.String()
}

// snapshotRing retains the most recent snapshots, overwriting the oldest.
type snapshotRing struct {
	buf  []Snapshot
	next int
	full bool
}

func newSnapshotRing(size int) *snapshotRing {
	return &snapshotRing{buf: make([]Snapshot, size)}
}

func (r *snapshotRing) push(s Snapshot) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// items returns the retained snapshots, oldest first.
func (r *snapshotRing) items() []Snapshot {
	if !r.full {
		return append([]Snapshot(nil), r.buf[:r.next]...)
	}
	out := make([]Snapshot, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
