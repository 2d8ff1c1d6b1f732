package view

import (
	"context"
	"sync"

	"github.com/m-mizutani/reagent/pkg/model"
)

// Frame is one Render call captured by Recorder.
type Frame struct {
	Snapshot *model.Snapshot
	Change   model.Change
}

// Recorder is a headless view. It keeps every frame and notification so that
// state changes can be asserted without a terminal.
type Recorder struct {
	mu      sync.Mutex
	frames  []Frame
	notices []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (x *Recorder) Render(_ context.Context, snap *model.Snapshot, change model.Change) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.frames = append(x.frames, Frame{Snapshot: snap, Change: change})
}

func (x *Recorder) Notify(_ context.Context, message string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.notices = append(x.notices, message)
}

// Frames returns a copy of the captured frames in render order.
func (x *Recorder) Frames() []Frame {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]Frame, len(x.frames))
	copy(out, x.frames)
	return out
}

// Last returns the most recent snapshot, or nil before the first render.
func (x *Recorder) Last() *model.Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.frames) == 0 {
		return nil
	}
	return x.frames[len(x.frames)-1].Snapshot
}

// Count returns the number of frames whose change includes flag.
func (x *Recorder) Count(flag model.Change) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, f := range x.frames {
		if f.Change.Has(flag) {
			n++
		}
	}
	return n
}

func (x *Recorder) Notices() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, len(x.notices))
	copy(out, x.notices)
	return out
}
