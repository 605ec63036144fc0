package ledger

import (
	"sync"
	"testing"
	"time"
)

var testShape = Shape{
	Player:     []string{"psyche", "progress", "evidence", "network", "resources"},
	Antagonist: []string{"authority", "exposureRisk", "anxiety"},
}

func TestApplyDeltaOnEmptyLedger(t *testing.T) {
	l := New(testShape)

	entry := l.ApplyDelta(Update{
		PlayerDelta:     StatVector{"psyche": 5},
		AntagonistDelta: StatVector{"authority": -2},
		Narrative:       "You hold your ground.",
	})

	cur := l.Current()
	if got := cur.Player.Get("psyche"); got != 5 {
		t.Errorf("Current().Player[psyche] = %d, want 5", got)
	}
	if got := cur.Antagonist.Get("authority"); got != -2 {
		t.Errorf("Current().Antagonist[authority] = %d, want -2", got)
	}
	if got := len(l.History()); got != 1 {
		t.Errorf("len(History()) = %d, want 1", got)
	}
	if entry.Sequence != 1 {
		t.Errorf("entry.Sequence = %d, want 1", entry.Sequence)
	}
	if entry.Initialization {
		t.Error("ApplyDelta entry should not be marked as initialization")
	}
}

func TestConsecutiveDeltas(t *testing.T) {
	l := New(testShape)

	l.ApplyDelta(Update{PlayerDelta: StatVector{"progress": 10}, Narrative: "first"})
	l.ApplyDelta(Update{PlayerDelta: StatVector{"progress": -5}, Narrative: "second"})

	if got := l.Current().Player.Get("progress"); got != 5 {
		t.Errorf("progress = %d, want 5", got)
	}

	history := l.History()
	if len(history) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(history))
	}
	if history[0].Narrative != "second" || history[1].Narrative != "first" {
		t.Errorf("History() order = [%q, %q], want most recent first", history[0].Narrative, history[1].Narrative)
	}
	if history[0].Sequence <= history[1].Sequence {
		t.Errorf("sequence not monotonic: %d then %d", history[1].Sequence, history[0].Sequence)
	}
}

func TestInitializeIsAbsolute(t *testing.T) {
	l := New(testShape)
	l.ApplyDelta(Update{PlayerDelta: StatVector{"psyche": 40}})

	entry := l.Initialize(StatVector{"psyche": 70, "resources": 30}, StatVector{"authority": 80}, Note{
		Narrative:       "new character",
		PlayerRationale: "fresh hire",
	})
	if !entry.Initialization {
		t.Error("Initialize entry should be marked as initialization")
	}
	if entry.Narrative != "new character" || entry.PlayerRationale != "fresh hire" {
		t.Errorf("Initialize note = %q/%q, want new character/fresh hire", entry.Narrative, entry.PlayerRationale)
	}
	if got := l.Current().Player.Get("psyche"); got != 70 {
		t.Errorf("psyche after Initialize = %d, want 70", got)
	}

	l.ApplyDelta(Update{PlayerDelta: StatVector{"psyche": -10}})
	if got := l.Current().Player.Get("psyche"); got != 60 {
		t.Errorf("psyche after delta = %d, want 60", got)
	}
	if got := l.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestShapeIsFixed(t *testing.T) {
	l := New(testShape)
	entry := l.ApplyDelta(Update{PlayerDelta: StatVector{"charisma": 9, "network": 3}})

	if _, ok := entry.Player["charisma"]; ok {
		t.Error("channel outside the shape should be dropped")
	}
	for _, ch := range testShape.Player {
		if _, ok := entry.Player[ch]; !ok {
			t.Errorf("channel %q missing from entry", ch)
		}
	}
	if got := entry.Player.Get("network"); got != 3 {
		t.Errorf("network = %d, want 3", got)
	}
}

func TestValuesAreNotClamped(t *testing.T) {
	l := New(testShape)
	l.ApplyDelta(Update{PlayerDelta: StatVector{"psyche": 150, "resources": -30}})

	cur := l.Current()
	if cur.Player.Get("psyche") != 150 || cur.Player.Get("resources") != -30 {
		t.Errorf("Current() = %v, want unclamped values", cur.Player)
	}
}

func TestCurrentOnEmptyLedger(t *testing.T) {
	cur := New(testShape).Current()
	for _, ch := range testShape.Player {
		if cur.Player.Get(ch) != 0 {
			t.Errorf("empty ledger %s = %d, want 0", ch, cur.Player.Get(ch))
		}
	}
	if len(cur.Antagonist) != len(testShape.Antagonist) {
		t.Errorf("antagonist vector has %d channels, want %d", len(cur.Antagonist), len(testShape.Antagonist))
	}
}

func TestHistoryIsRestartableCopy(t *testing.T) {
	l := New(testShape)
	l.ApplyDelta(Update{PlayerDelta: StatVector{"evidence": 2}})

	first := l.History()
	first[0].Player["evidence"] = 999

	second := l.History()
	if got := second[0].Player.Get("evidence"); got != 2 {
		t.Errorf("History() leaked internal state: evidence = %d, want 2", got)
	}
}

func TestTimestampFromClock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l := New(testShape).WithClock(func() time.Time { return fixed })

	entry := l.ApplyDelta(Update{})
	if !entry.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", entry.Timestamp, fixed)
	}
}

func TestOnAppendObserver(t *testing.T) {
	l := New(testShape)
	var seen []uint64
	l.OnAppend(func(e Entry) { seen = append(seen, e.Sequence) })

	l.ApplyDelta(Update{})
	l.Initialize(nil, nil, Note{})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("observer saw %v, want [1 2]", seen)
	}
}

func TestConcurrentReadersSeeWholeEntries(t *testing.T) {
	l := New(testShape)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			l.ApplyDelta(Update{PlayerDelta: StatVector{"psyche": 1}, AntagonistDelta: StatVector{"anxiety": 1}})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				cur := l.Current()
				if cur.Player.Get("psyche") != cur.Antagonist.Get("anxiety") {
					t.Errorf("torn read: psyche=%d anxiety=%d", cur.Player.Get("psyche"), cur.Antagonist.Get("anxiety"))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestClamp(t *testing.T) {
	tests := []struct {
		n, lo, hi, want int
	}{
		{50, 0, 100, 50},
		{-5, 0, 100, 0},
		{140, 0, 100, 100},
	}
	for _, tt := range tests {
		if got := Clamp(tt.n, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.n, tt.lo, tt.hi, got, tt.want)
		}
	}
}
