// Package archive keeps a copy of each sent recording in object storage.
// Uploads run on one background worker and never block the session.
package archive

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/session"
)

type job struct {
	key         string
	contentType string
	data        []byte
}

type Archive struct {
	up     Uploader
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	jobs   chan job
	closed bool
	done   chan struct{}
}

// New starts the upload worker. Recordings beyond buffer pending uploads are dropped.
func New(up Uploader, prefix string, buffer int) *Archive {
	if buffer <= 0 {
		buffer = 16
	}
	a := &Archive{
		up:     up,
		prefix: prefix,
		now:    time.Now,
		jobs:   make(chan job, buffer),
		done:   make(chan struct{}),
	}
	go a.worker()
	return a
}

// Events returns session hooks that archive every recording.
func (a *Archive) Events() session.Events {
	return session.Events{OnRecording: a.Recording}
}

// Recording queues unit for upload under prefix/<time>-<turnID>.wav.
func (a *Archive) Recording(turnID string, unit audio.CapturedUnit) {
	ct := unit.ContentType
	if ct == "" {
		ct = "audio/wav"
	}
	j := job{
		key:         fmt.Sprintf("%s/%s-%s.wav", a.prefix, a.now().UTC().Format("20060102T150405"), turnID),
		contentType: ct,
		data:        unit.Data,
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.jobs <- j:
	default:
		log.Printf("[archive] queue full, dropping %s", j.key)
	}
}

func (a *Archive) worker() {
	defer close(a.done)
	for j := range a.jobs {
		start := time.Now()
		if err := a.up.Upload(j.key, j.contentType, j.data); err != nil {
			log.Printf("[archive] upload %s failed: %v", j.key, err)
			continue
		}
		log.Printf("[archive] uploaded %s bytes=%d in %s", j.key, len(j.data), time.Since(start))
	}
}

// Close stops accepting recordings and waits for pending uploads.
func (a *Archive) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()
	<-a.done
}
