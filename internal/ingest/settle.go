package ingest

import (
	"os"
	"slices"
	"time"
)

// probe is the size and mtime observed for a path at one instant.
type probe struct {
	size  int64
	mtime time.Time
}

func (p probe) same(other probe) bool {
	return p.size == other.size && p.mtime.Equal(other.mtime)
}

func statProbe(path string) (probe, error) {
	info, err := os.Stat(path)
	if err != nil {
		return probe{}, err
	}
	if !info.Mode().IsRegular() {
		return probe{}, os.ErrNotExist
	}
	return probe{size: info.Size(), mtime: info.ModTime()}, nil
}

type candidate struct {
	lastEvent time.Time
	last      *probe
	nextProbe time.Time
}

// tracker holds paths that have not settled yet. It is owned by a single
// goroutine.
type tracker struct {
	debounce   time.Duration
	settle     time.Duration
	candidates map[string]*candidate
}

func newTracker(debounce, settle time.Duration) *tracker {
	return &tracker{
		debounce:   debounce,
		settle:     settle,
		candidates: make(map[string]*candidate),
	}
}

// touch records activity on path and restarts its settle window.
func (t *tracker) touch(path string, now time.Time) {
	c, ok := t.candidates[path]
	if !ok {
		c = &candidate{}
		t.candidates[path] = c
	}
	c.lastEvent = now
	c.last = nil
	c.nextProbe = time.Time{}
}

func (t *tracker) tracked(path string) bool {
	_, ok := t.candidates[path]
	return ok
}

func (t *tracker) forget(path string) {
	delete(t.candidates, path)
}

func (t *tracker) len() int {
	return len(t.candidates)
}

// due probes every candidate whose debounce window has passed. Paths with two
// matching consecutive probes are returned as settled and forgotten; paths
// that can no longer be stat'ed are returned as vanished and forgotten.
func (t *tracker) due(now time.Time, stat func(string) (probe, error)) (settled, vanished []string) {
	for path, c := range t.candidates {
		if now.Sub(c.lastEvent) < t.debounce || now.Before(c.nextProbe) {
			continue
		}
		p, err := stat(path)
		if err != nil {
			vanished = append(vanished, path)
			delete(t.candidates, path)
			continue
		}
		if c.last != nil && c.last.same(p) {
			settled = append(settled, path)
			delete(t.candidates, path)
			continue
		}
		c.last = &p
		c.nextProbe = now.Add(t.settle)
	}
	slices.Sort(settled)
	slices.Sort(vanished)
	return settled, vanished
}
