// Package memdebug implements the hierarchical ISDB_MEM-style debug
// leveler: a thin wrapper over log/slog where level N shows every
// message with severity <= N, plus an in-memory ring of recent
// records, readable through Leveler.Ring without re-reading logs.
package memdebug

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Level is the hierarchical debug verbosity. Canonical interpretation
// (per the design notes this subsystem resolves an ambiguity in):
// level N shows all messages with severity <= N.
type Level int32

const (
	LevelNone    Level = 0
	LevelError   Level = 1
	LevelPredict Level = 2
	LevelInfo    Level = 3
	LevelVerbose Level = 4
	LevelMax     Level = 5
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelError:
		return "error"
	case LevelPredict:
		return "predict"
	case LevelInfo:
		return "info"
	case LevelVerbose:
		return "verbose"
	case LevelMax:
		return "max"
	default:
		return "unknown"
	}
}

const ringCapacity = 256

// Record is one retained debug-ring entry.
type Record struct {
	Level   Level
	Message string
	Attrs   []slog.Attr
}

// Leveler gates slog output by the hierarchical level and retains the
// last ringCapacity records for inspection through Ring.
type Leveler struct {
	level  atomic.Int32
	logger *slog.Logger

	mu   sync.Mutex
	ring []Record
	next int
}

// New builds a Leveler wrapping base, starting at LevelError (the
// always-on floor) unless overridden by SetLevel.
func New(base *slog.Logger) *Leveler {
	if base == nil {
		base = slog.Default()
	}
	l := &Leveler{logger: base, ring: make([]Record, 0, ringCapacity)}
	l.level.Store(int32(LevelError))
	return l
}

// SetLevel changes verbosity. Safe to call from a signal handler path
// (SIGUSR1 toggle) since it is a single atomic store.
func (l *Leveler) SetLevel(lv Level) { l.level.Store(int32(lv)) }

// Level returns the current verbosity.
func (l *Leveler) Level() Level { return Level(l.level.Load()) }

// ToggleBasic flips between LevelNone and LevelError, matching the
// SIGUSR1 contract ("toggle debug verbosity between none and basic").
func (l *Leveler) ToggleBasic() {
	if l.Level() == LevelNone {
		l.SetLevel(LevelError)
	} else {
		l.SetLevel(LevelNone)
	}
}

// Log emits a message at the given severity if the current level
// permits it (lv <= current level), and always appends it to the ring
// for later inspection regardless of whether it was emitted — the ring
// is a debug aid, not a filtered view.
func (l *Leveler) Log(ctx context.Context, lv Level, msg string, attrs ...slog.Attr) {
	l.append(lv, msg, attrs)

	if lv > l.Level() || lv == LevelNone {
		return
	}
	l.logger.LogAttrs(ctx, slogLevelFor(lv), msg, attrs...)
}

func (l *Leveler) append(lv Level, msg string, attrs []slog.Attr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := Record{Level: lv, Message: msg, Attrs: attrs}
	if len(l.ring) < ringCapacity {
		l.ring = append(l.ring, rec)
	} else {
		l.ring[l.next] = rec
	}
	l.next = (l.next + 1) % ringCapacity
}

// Ring returns a copy of the retained records, oldest first.
func (l *Leveler) Ring() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ring) < ringCapacity {
		out := make([]Record, len(l.ring))
		copy(out, l.ring)
		return out
	}
	out := make([]Record, ringCapacity)
	copy(out, l.ring[l.next:])
	copy(out[ringCapacity-l.next:], l.ring[:l.next])
	return out
}

func slogLevelFor(lv Level) slog.Level {
	switch lv {
	case LevelError:
		return slog.LevelError
	case LevelPredict, LevelInfo:
		return slog.LevelInfo
	case LevelVerbose, LevelMax:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Errorf, Predictf, Infof, Verbosef, Maxf are convenience wrappers
// matching the five canonical severities from the design notes.
func (l *Leveler) Errorf(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Log(ctx, LevelError, msg, attrs...)
}
func (l *Leveler) Predictf(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Log(ctx, LevelPredict, msg, attrs...)
}
func (l *Leveler) Infof(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Log(ctx, LevelInfo, msg, attrs...)
}
func (l *Leveler) Verbosef(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Log(ctx, LevelVerbose, msg, attrs...)
}
func (l *Leveler) Maxf(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Log(ctx, LevelMax, msg, attrs...)
}

// ParseLevel converts the --memdebug=N flag value (0..5) into a Level,
// clamping out-of-range input rather than erroring — memory awareness
// is advisory and must never fail the build over a malformed flag.
func ParseLevel(n int) Level {
	if n < 0 {
		return LevelNone
	}
	if n > int(LevelMax) {
		return LevelMax
	}
	return Level(n)
}
