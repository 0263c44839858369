// Package playback sequences agent audio units through a single player.
package playback

import (
	"log"
	"sync"

	"github.com/chadiek/voice-agent/internal/audio"
)

// Outcome reports what a completion did to the queue.
type Outcome int

const (
	// Next means another unit started playing.
	Next Outcome = iota
	// Drained means nothing is playing and nothing is pending.
	Drained
	// Held means units are pending but muted.
	Held
	// Stale means the completion belonged to a unit that is no longer current.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Next:
		return "next"
	case Drained:
		return "drained"
	case Held:
		return "held"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Queue plays units strictly in arrival order, one at a time. Completions
// arrive via the notify func passed to New and must be fed back through
// Finished from the goroutine that owns the queue.
type Queue struct {
	player audio.Player
	notify func(audio.Handle)

	mu      sync.Mutex
	pending []audio.AgentUnit
	current audio.Handle
	unit    audio.AgentUnit
	playing bool
	muted   bool
}

// New returns an empty queue. notify is invoked from player goroutines.
func New(player audio.Player, notify func(audio.Handle)) *Queue {
	return &Queue{player: player, notify: notify}
}

// Enqueue appends unit and starts it if the queue was idle and unmuted.
// It reports whether a unit is playing afterwards.
func (q *Queue) Enqueue(unit audio.AgentUnit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, unit)
	if !q.playing && !q.muted {
		q.startNextLocked()
	}
	return q.playing
}

// Finished advances the queue after the unit identified by h ended.
func (q *Queue) Finished(h audio.Handle) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.playing || h != q.current {
		return Stale
	}
	q.playing = false
	q.current = 0
	q.unit = audio.AgentUnit{}
	return q.advanceLocked()
}

// Flush stops the current unit and discards all pending ones. It returns
// how many units were dropped, including the one playing.
func (q *Queue) Flush() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	h, wasPlaying := q.current, q.playing
	q.playing = false
	q.current = 0
	q.unit = audio.AgentUnit{}
	q.mu.Unlock()
	if wasPlaying {
		n++
		q.player.Stop(h)
	}
	return n
}

// SetMuted toggles muting. Muting stops the current unit and puts it back
// at the head of the queue; unmuting starts the head again. It reports
// whether a unit is playing afterwards.
func (q *Queue) SetMuted(muted bool) bool {
	q.mu.Lock()
	q.muted = muted
	if !muted {
		if !q.playing {
			q.startNextLocked()
		}
		playing := q.playing
		q.mu.Unlock()
		return playing
	}
	h, wasPlaying := q.current, q.playing
	if wasPlaying {
		q.pending = append([]audio.AgentUnit{q.unit}, q.pending...)
		q.playing = false
		q.current = 0
		q.unit = audio.AgentUnit{}
	}
	q.mu.Unlock()

	if wasPlaying {
		q.player.Stop(h)
	}
	return false
}

func (q *Queue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

// Playing reports whether a unit is currently being played.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len is the number of units waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) advanceLocked() Outcome {
	if q.muted {
		if len(q.pending) > 0 {
			return Held
		}
		return Drained
	}
	q.startNextLocked()
	if q.playing {
		return Next
	}
	return Drained
}

// startNextLocked pops units until one starts. Units the player rejects
// are dropped.
func (q *Queue) startNextLocked() {
	for len(q.pending) > 0 {
		unit := q.pending[0]
		q.pending = q.pending[1:]
		h, err := q.player.Play(unit, q.notify)
		if err != nil {
			log.Printf("[playback] unit %d dropped: %v", unit.Seq, err)
			continue
		}
		q.current = h
		q.unit = unit
		q.playing = true
		return
	}
}
