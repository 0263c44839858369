package playback

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-agent/internal/audio"
)

type fakePlayer struct {
	mu      sync.Mutex
	next    audio.Handle
	started []uint64
	stopped []audio.Handle
	active  map[audio.Handle]bool
	failSeq map[uint64]bool
}

func (p *fakePlayer) Name() string { return "fake" }

func (p *fakePlayer) Play(u audio.AgentUnit, _ func(audio.Handle)) (audio.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSeq[u.Seq] {
		return 0, errors.New("undecodable")
	}
	p.next++
	p.started = append(p.started, u.Seq)
	if p.active == nil {
		p.active = make(map[audio.Handle]bool)
	}
	p.active[p.next] = true
	return p.next, nil
}

func (p *fakePlayer) Stop(h audio.Handle) {
	p.mu.Lock()
	p.stopped = append(p.stopped, h)
	delete(p.active, h)
	p.mu.Unlock()
}

func (p *fakePlayer) Close() error { return nil }

// complete ends h naturally, as the device would when the unit runs out.
func (p *fakePlayer) complete(h audio.Handle) {
	p.mu.Lock()
	delete(p.active, h)
	p.mu.Unlock()
}

func (p *fakePlayer) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func unit(seq uint64) audio.AgentUnit { return audio.AgentUnit{Seq: seq, Data: []byte{byte(seq)}} }

func TestQueue_PlaysInArrivalOrderOneAtATime(t *testing.T) {
	p := &fakePlayer{}
	q := New(p, nil)

	require.True(t, q.Enqueue(unit(1)), "first unit should start")
	q.Enqueue(unit(2))
	q.Enqueue(unit(3))
	require.Equal(t, []uint64{1}, p.started)
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, Next, q.Finished(1))
	assert.Equal(t, Next, q.Finished(2))
	assert.Equal(t, Drained, q.Finished(3))
	assert.False(t, q.Playing())
	assert.Equal(t, []uint64{1, 2, 3}, p.started)
}

func TestQueue_FlushStopsCurrentAndDropsPending(t *testing.T) {
	p := &fakePlayer{}
	q := New(p, nil)
	q.Enqueue(unit(1))
	q.Enqueue(unit(2))
	q.Enqueue(unit(3))

	assert.Equal(t, 3, q.Flush())
	assert.False(t, q.Playing())
	assert.Zero(t, q.Len())
	assert.Equal(t, []audio.Handle{1}, p.stopped)
	// the stopped unit's completion must not resurrect anything
	assert.Equal(t, Stale, q.Finished(1))
	assert.Zero(t, q.Flush())
}

func TestQueue_StaleCompletionAfterFlushAndNewUnit(t *testing.T) {
	p := &fakePlayer{}
	q := New(p, nil)
	q.Enqueue(unit(1))
	q.Flush()
	q.Enqueue(unit(2))

	assert.Equal(t, Stale, q.Finished(1))
	assert.True(t, q.Playing(), "unit 2 should still be playing")
}

func TestQueue_MuteStopsCurrentAndRequeuesIt(t *testing.T) {
	p := &fakePlayer{}
	q := New(p, nil)
	q.Enqueue(unit(1))
	q.Enqueue(unit(2))

	assert.False(t, q.SetMuted(true))
	assert.False(t, q.Playing())
	assert.Equal(t, []audio.Handle{1}, p.stopped)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, Stale, q.Finished(1))

	assert.False(t, q.Enqueue(unit(3)), "muted queue must not start units")
	require.True(t, q.SetMuted(false), "unmute should start the head")
	assert.Equal(t, []uint64{1, 1}, p.started)

	assert.Equal(t, Next, q.Finished(2))
	assert.Equal(t, Next, q.Finished(3))
	assert.Equal(t, Drained, q.Finished(4))
	assert.Equal(t, []uint64{1, 1, 2, 3}, p.started)
}

func TestQueue_MuteWhileIdleHoldsNewUnits(t *testing.T) {
	p := &fakePlayer{}
	q := New(p, nil)
	q.SetMuted(true)
	assert.False(t, q.Enqueue(unit(1)))
	assert.Empty(t, p.stopped)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.SetMuted(false))
	assert.Equal(t, []uint64{1}, p.started)
}

func TestQueue_SkipsUnitsThePlayerRejects(t *testing.T) {
	p := &fakePlayer{failSeq: map[uint64]bool{1: true, 3: true}}
	q := New(p, nil)
	assert.False(t, q.Enqueue(unit(1)), "rejected unit should not play")
	q.Enqueue(unit(2))
	q.Enqueue(unit(3))
	// handle 1 belongs to unit 2
	assert.Equal(t, Drained, q.Finished(1))
}

func TestQueue_RandomInterleavingsKeepOneUnitPlaying(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			p := &fakePlayer{}
			q := New(p, nil)
			var seq uint64
			muted := false

			for i := 0; i < 300; i++ {
				switch rng.Intn(5) {
				case 0, 1:
					seq++
					q.Enqueue(unit(seq))
				case 2:
					if p.next == 0 {
						continue
					}
					h := audio.Handle(rng.Int63n(int64(p.next)) + 1)
					p.mu.Lock()
					live := p.active[h]
					p.mu.Unlock()
					p.complete(h)
					out := q.Finished(h)
					if !live {
						require.Equal(t, Stale, out, "step %d: handle %d", i, h)
					} else {
						require.NotEqual(t, Stale, out, "step %d: handle %d", i, h)
					}
				case 3:
					if rng.Intn(4) == 0 {
						q.Flush()
					}
				case 4:
					muted = !muted
					q.SetMuted(muted)
				}

				active := p.activeCount()
				require.LessOrEqual(t, active, 1, "step %d", i)
				require.Equal(t, active == 1, q.Playing(), "step %d", i)
				if muted {
					require.False(t, q.Playing(), "step %d: muted queue is playing", i)
				}
				if !muted && !q.Playing() {
					require.Zero(t, q.Len(), "step %d: idle unmuted queue holds units", i)
				}
			}
		})
	}
}
