package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// startupGrace is how long ffmpeg must stay alive before the device is
// considered open. Permission and device errors surface well within it.
const startupGrace = 300 * time.Millisecond

// FFmpegSource records the platform microphone through an ffmpeg child process.
type FFmpegSource struct {
	Path        string
	InputFormat string
	Device      string
	PCM         Format
}

// NewFFmpegSource fills platform defaults for empty fields.
func NewFFmpegSource(path, inputFormat, device string, f Format) *FFmpegSource {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	defFormat, defDevice := defaultFFmpegInput()
	if strings.TrimSpace(inputFormat) == "" {
		inputFormat = defFormat
	}
	if strings.TrimSpace(device) == "" {
		device = defDevice
	}
	if f.SampleRate <= 0 {
		f = DefaultFormat()
	}
	return &FFmpegSource{Path: path, InputFormat: inputFormat, Device: device, PCM: f}
}

func defaultFFmpegInput() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		// `none:<index>` avoids opening a camera.
		return "avfoundation", "none:0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (s *FFmpegSource) Name() string   { return "ffmpeg/" + s.InputFormat }
func (s *FFmpegSource) Format() Format { return s.PCM }

func (s *FFmpegSource) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-f", s.InputFormat,
		"-i", s.Device,
		"-ac", strconv.Itoa(s.PCM.Channels),
		"-ar", strconv.Itoa(s.PCM.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Open starts ffmpeg writing PCM into w. Closing the returned closer stops
// ffmpeg and waits until all of its output has been written to w.
func (s *FFmpegSource) Open(ctx context.Context, w io.Writer) (io.Closer, error) {
	path, err := exec.LookPath(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	cmd := exec.Command(path, s.args()...)
	cmd.Stdout = w
	stderr := &tailWriter{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(startupGrace)
	defer timer.Stop()
	select {
	case werr := <-done:
		return nil, classifyFFmpegExit(werr, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, ctx.Err()
	case <-timer.C:
	}

	return &ffmpegProc{cmd: cmd, done: done}, nil
}

type ffmpegProc struct {
	cmd  *exec.Cmd
	done chan error
	once sync.Once
}

// Close interrupts ffmpeg, which flushes and exits with a non-zero status;
// that status is not an error here. ffmpeg is killed if it lingers.
func (p *ffmpegProc) Close() error {
	p.once.Do(func() {
		_ = interruptProcess(p.cmd)
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
	return nil
}

func classifyFFmpegExit(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "not authorized") || strings.Contains(lower, "access denied") {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	}
	if msg == "" && err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "ffmpeg exited during startup"
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

var errNoProcess = errors.New("process not started")

func interruptProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errNoProcess
	}
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(os.Interrupt)
}
