package audio

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// FFplayPlayer plays each agent unit through its own ffplay process fed on
// stdin, so any container ffplay can probe (wav, mp3, ogg) is accepted.
type FFplayPlayer struct {
	path     string
	logLevel string
	volume   int

	mu     sync.Mutex
	next   Handle
	active map[Handle]*ffplayRun
}

type ffplayRun struct {
	cmd *exec.Cmd
}

// NewFFplayPlayer constructs a player. volume is 0-100.
func NewFFplayPlayer(path string, volume int) *FFplayPlayer {
	if strings.TrimSpace(path) == "" {
		path = "ffplay"
	}
	if volume <= 0 || volume > 100 {
		volume = 100
	}
	return &FFplayPlayer{path: path, logLevel: "quiet", volume: volume, active: make(map[Handle]*ffplayRun)}
}

func (p *FFplayPlayer) Name() string { return "ffplay" }

func (p *FFplayPlayer) Play(unit AgentUnit, finished func(Handle)) (Handle, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", p.logLevel,
		"-nodisp",
		"-autoexit",
		"-volume", strconv.Itoa(p.volume),
		"-i", "-",
	}
	cmd := exec.Command(p.path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL may otherwise pick a dummy backend with no sound.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return 0, fmt.Errorf("%w: start ffplay: %v", ErrDeviceUnavailable, err)
	}

	p.mu.Lock()
	p.next++
	h := p.next
	p.active[h] = &ffplayRun{cmd: cmd}
	p.mu.Unlock()

	go func() {
		if _, err := stdin.Write(unit.Data); err != nil {
			log.Printf("playback(ffplay): unit %d write: %v", unit.Seq, err)
		}
		_ = stdin.Close()
	}()
	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		_, live := p.active[h]
		delete(p.active, h)
		p.mu.Unlock()
		if live && finished != nil {
			finished(h)
		}
	}()
	return h, nil
}

// Stop kills the ffplay process for h. The completion callback is
// suppressed because h is removed before the process exits.
func (p *FFplayPlayer) Stop(h Handle) {
	p.mu.Lock()
	run, ok := p.active[h]
	delete(p.active, h)
	p.mu.Unlock()
	if !ok {
		return
	}
	if run.cmd.Process != nil {
		_ = run.cmd.Process.Kill()
	}
}

// Close stops every running unit.
func (p *FFplayPlayer) Close() error {
	p.mu.Lock()
	handles := make([]Handle, 0, len(p.active))
	for h := range p.active {
		handles = append(handles, h)
	}
	p.mu.Unlock()
	for _, h := range handles {
		p.Stop(h)
	}
	return nil
}
