// Package playback drives a display surface through the frames of a slot.
//
// STATE MACHINE:
//
//	          LoadSlot                  fetch done, frames
//	any ───────────────► Loading ─────────────────────────► Playing ◄──┐
//	                        │                                  │       │ TogglePause
//	                        │ fetch done, no frames (or error) │       │
//	                        ▼                      TogglePause ▼       │
//	                      Empty                              Paused ───┘
//
// While Playing, a recurring timer advances the frame index every
// FrameInterval and wraps around. Every LoadSlot fully resets the session
// (index 0, not paused) and supersedes any load still in flight.
//
// Only one timer is ever armed per engine. Each arm gets a generation number,
// and a tick whose generation is stale is ignored, so a tick racing a Stop
// can never advance the wrong session.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/model"
)

const (
	// FrameInterval is the playback rate: 5 frames per second.
	FrameInterval = time.Second / 5

	// SwipeThreshold is the minimum horizontal travel that counts as a swipe.
	SwipeThreshold = 50
)

// State of a playback session.
type State int

const (
	Empty State = iota
	Loading
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FrameSource fetches the ordered frame listing of a slot.
type FrameSource interface {
	ListFrames(ctx context.Context, slot int) ([]model.Frame, error)
}

// Display renders the session. The engine calls it while holding its lock,
// so implementations must not call back into the engine.
type Display interface {
	ShowFrame(slot, index int, frame model.Frame)
	ShowPlaceholder(slot int)
}

// Publisher announces locally triggered slot switches to the other surfaces.
type Publisher interface {
	PublishSlot(slot int)
}

// Timer is a running recurring timer.
type Timer interface {
	Stop()
}

// Scheduler calls tick every interval until the returned Timer is stopped.
// Stop must not wait for an in-flight tick to return.
type Scheduler func(interval time.Duration, tick func()) Timer

type tickerTimer struct {
	done chan struct{}
	once sync.Once
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() { close(t.done) })
}

// TickerScheduler is the production Scheduler backed by time.Ticker.
func TickerScheduler(interval time.Duration, tick func()) Timer {
	t := &tickerTimer{done: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	return t
}

// Options configures an Engine. Source and Display are required.
type Options struct {
	Source    FrameSource
	Display   Display
	Publisher Publisher // optional; nil disables announcing
	Scheduler Scheduler // optional; defaults to TickerScheduler
	Interval  time.Duration
	Logger    *slog.Logger
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State  State
	Slot   int
	Index  int
	Frames int
}

// Engine is the playback state machine of one surface.
type Engine struct {
	source    FrameSource
	display   Display
	publisher Publisher
	schedule  Scheduler
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	slot   int
	frames []model.Frame
	index  int
	gen    uint64 // bumped by every LoadSlot; stale fetch results are discarded
	armGen uint64 // bumped by every arm/stop; stale ticks are ignored
	timer  Timer
	closed bool
}

// NewEngine creates an engine in the Empty state on slot 0.
func NewEngine(opts Options) *Engine {
	if opts.Scheduler == nil {
		opts.Scheduler = TickerScheduler
	}
	if opts.Interval <= 0 {
		opts.Interval = FrameInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		source:    opts.Source,
		display:   opts.Display,
		publisher: opts.Publisher,
		schedule:  opts.Scheduler,
		interval:  opts.Interval,
		logger:    opts.Logger,
		state:     Empty,
	}
}

// LoadSlot switches the session to slot and starts playback from frame 0.
//
// The listing is fetched without holding the lock. If another LoadSlot
// starts meanwhile, this call's result is dropped. A failed fetch is treated
// as an empty slot.
func (e *Engine) LoadSlot(ctx context.Context, slot int) error {
	if !model.ValidSlot(slot) {
		return apperror.BadSlot(strconv.Itoa(slot))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.stopTimerLocked()
	e.gen++
	gen := e.gen
	e.state = Loading
	e.slot = slot
	e.frames = nil
	e.index = 0
	e.mu.Unlock()

	frames, err := e.source.ListFrames(ctx, slot)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.closed {
		return nil
	}
	if err != nil {
		e.logger.Warn("listing fetch failed, showing placeholder",
			slog.Int("slot", slot),
			slog.String("error", err.Error()),
		)
		frames = nil
	}

	e.frames = frames
	if len(frames) == 0 {
		e.state = Empty
		e.display.ShowPlaceholder(slot)
		return nil
	}

	e.state = Playing
	e.display.ShowFrame(slot, 0, frames[0])
	e.armLocked()
	return nil
}

// TogglePause flips Playing and Paused and returns the resulting state.
// In any other state it does nothing.
func (e *Engine) TogglePause() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Playing:
		e.stopTimerLocked()
		e.state = Paused
	case Paused:
		e.state = Playing
		e.armLocked()
	}
	return e.state
}

// Snapshot returns the current session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{State: e.state, Slot: e.slot, Index: e.index, Frames: len(e.frames)}
}

// Close stops playback for good. Later calls are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
	e.closed = true
	e.gen++
}

func (e *Engine) armLocked() {
	e.stopTimerLocked()
	e.armGen++
	g := e.armGen
	e.timer = e.schedule(e.interval, func() { e.tick(g) })
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.armGen++
}

func (e *Engine) tick(g uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if g != e.armGen || e.state != Playing || len(e.frames) == 0 {
		return
	}
	e.index = (e.index + 1) % len(e.frames)
	e.display.ShowFrame(e.slot, e.index, e.frames[e.index])
}

// =========================================================================
// TRIGGERS
// =========================================================================

// KeyEvent is a key press: Code names the physical key ("Digit3") and Shift
// reports the modifier.
type KeyEvent struct {
	Code  string
	Shift bool
}

// HandleKey switches slot on Shift+Digit0..9. It reports whether the key was
// a slot hotkey.
func (e *Engine) HandleKey(ctx context.Context, ev KeyEvent) (bool, error) {
	if !ev.Shift {
		return false, nil
	}
	digit, ok := strings.CutPrefix(ev.Code, "Digit")
	if !ok {
		return false, nil
	}
	slot, ok := model.ParseSlot(digit)
	if !ok {
		return false, nil
	}
	return true, e.trigger(ctx, slot)
}

// HandleSwipe interprets a horizontal gesture from startX to endX. Moving
// left past the threshold goes to the next slot, moving right to the
// previous one, both wrapping within 0..9.
func (e *Engine) HandleSwipe(ctx context.Context, startX, endX float64) (bool, error) {
	current := e.Snapshot().Slot

	var slot int
	switch {
	case endX < startX-SwipeThreshold:
		slot = (current + 1) % model.SlotCount
	case endX > startX+SwipeThreshold:
		slot = (current + model.SlotCount - 1) % model.SlotCount
	default:
		return false, nil
	}
	return true, e.trigger(ctx, slot)
}

// HandleSync applies a slot switch received from another surface. It never
// re-publishes. Invalid messages are ignored.
func (e *Engine) HandleSync(ctx context.Context, msg model.SyncMessage) error {
	if !msg.Valid() {
		return nil
	}
	return e.LoadSlot(ctx, msg.Slot)
}

func (e *Engine) trigger(ctx context.Context, slot int) error {
	if e.publisher != nil {
		e.publisher.PublishSlot(slot)
	}
	return e.LoadSlot(ctx, slot)
}
