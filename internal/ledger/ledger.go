// Package ledger keeps the player and antagonist stat vectors and the
// append-only history of every change made to them.
package ledger

import (
	"sync"
	"time"
)

// Shape is the fixed set of channels tracked for each side.
// A zero Shape accepts any channel name.
type Shape struct {
	Player     []string
	Antagonist []string
}

// Note is the narrator's explanation attached to an entry.
type Note struct {
	Narrative           string
	PlayerRationale     string
	AntagonistRationale string
}

// Update is one stat change requested by the narrator.
type Update struct {
	PlayerDelta         StatVector
	AntagonistDelta     StatVector
	Narrative           string
	PlayerRationale     string
	AntagonistRationale string
}

// Entry is an immutable snapshot appended on every ledger write.
// Player and Antagonist hold absolute values after the change.
type Entry struct {
	Sequence            uint64
	Player              StatVector
	Antagonist          StatVector
	PlayerDelta         StatVector
	AntagonistDelta     StatVector
	Narrative           string
	PlayerRationale     string
	AntagonistRationale string
	Initialization      bool
	Timestamp           time.Time
}

// Snapshot is the current absolute value of both vectors.
type Snapshot struct {
	Player     StatVector
	Antagonist StatVector
}

// Ledger is an append-only accumulator of stat entries.
// Writes are serialized; readers never observe a half-applied entry.
type Ledger struct {
	mu       sync.RWMutex
	shape    Shape
	entries  []Entry // oldest first
	clock    func() time.Time
	observer func(Entry)
}

// New creates an empty ledger for the given shape.
func New(shape Shape) *Ledger {
	return &Ledger{
		shape:   shape,
		entries: make([]Entry, 0),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// OnAppend registers a callback invoked after every append, outside the lock.
func (l *Ledger) OnAppend(observer func(Entry)) {
	l.mu.Lock()
	l.observer = observer
	l.mu.Unlock()
}

// Shape returns the channel layout of this ledger.
func (l *Ledger) Shape() Shape {
	return l.shape
}

// Initialize appends an entry that sets both vectors to absolute values.
func (l *Ledger) Initialize(player, antagonist StatVector, note Note) Entry {
	return l.append(func(_ Snapshot) Entry {
		return Entry{
			Player:              player.Fit(l.shape.Player),
			Antagonist:          antagonist.Fit(l.shape.Antagonist),
			Narrative:           note.Narrative,
			PlayerRationale:     note.PlayerRationale,
			AntagonistRationale: note.AntagonistRationale,
			Initialization:      true,
		}
	})
}

// ApplyDelta adds the update's deltas to the current vectors and appends the
// result. Missing channels count as zero; channels outside the shape are ignored.
// On an empty ledger the deltas apply to the zero vector.
func (l *Ledger) ApplyDelta(u Update) Entry {
	return l.append(func(cur Snapshot) Entry {
		pd := u.PlayerDelta.Fit(l.shape.Player)
		ad := u.AntagonistDelta.Fit(l.shape.Antagonist)
		return Entry{
			Player:              cur.Player.Add(pd),
			Antagonist:          cur.Antagonist.Add(ad),
			PlayerDelta:         pd,
			AntagonistDelta:     ad,
			Narrative:           u.Narrative,
			PlayerRationale:     u.PlayerRationale,
			AntagonistRationale: u.AntagonistRationale,
		}
	})
}

func (l *Ledger) append(build func(Snapshot) Entry) Entry {
	l.mu.Lock()
	entry := build(l.currentLocked())
	entry.Sequence = uint64(len(l.entries)) + 1
	entry.Timestamp = l.clock()
	l.entries = append(l.entries, entry)
	observer := l.observer
	l.mu.Unlock()

	out := entry.clone()
	if observer != nil {
		observer(entry.clone())
	}
	return out
}

// Current returns the most recent absolute vectors, or zero vectors when
// nothing has been recorded yet.
func (l *Ledger) Current() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cur := l.currentLocked()
	return Snapshot{Player: cur.Player.Clone(), Antagonist: cur.Antagonist.Clone()}
}

func (l *Ledger) currentLocked() Snapshot {
	if len(l.entries) == 0 {
		return Snapshot{
			Player:     Zero(l.shape.Player),
			Antagonist: Zero(l.shape.Antagonist),
		}
	}
	last := l.entries[len(l.entries)-1]
	return Snapshot{Player: last.Player, Antagonist: last.Antagonist}
}

// History returns all entries, most recent first. Each call returns a fresh copy.
func (l *Ledger) History() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, l.entries[i].clone())
	}
	return out
}

// Len returns the number of entries recorded.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (e Entry) clone() Entry {
	e.Player = e.Player.Clone()
	e.Antagonist = e.Antagonist.Clone()
	e.PlayerDelta = e.PlayerDelta.Clone()
	e.AntagonistDelta = e.AntagonistDelta.Clone()
	return e
}
