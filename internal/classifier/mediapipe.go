package classifier

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/thumbswitch/internal/gesture"
)

const (
	serviceScript = "gesture_service.py"
	idleTimeout   = 30 * time.Second
)

// MediaPipeClassifier implements Classifier using a Python MediaPipe gesture
// recognizer subprocess. Frames are sent as length-prefixed JPEG on stdin and
// answered with one JSON line on stdout.
type MediaPipeClassifier struct {
	config    Config
	argv      []string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	closed    bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewMediaPipeClassifier creates a new MediaPipe classifier.
// The Python process is started lazily on first classification.
func NewMediaPipeClassifier(config Config) (*MediaPipeClassifier, error) {
	if config.ModelPath == "" {
		config.ModelPath = DefaultModelPath
	}
	if config.MaxHands <= 0 {
		config.MaxHands = 1
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", config.ModelPath, err)
	}

	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", serviceScript)
	}

	// Use virtual environment Python if available
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return newProcessClassifier(config, []string{pythonPath, scriptPath}), nil
}

// newProcessClassifier builds a classifier around an arbitrary service command.
func newProcessClassifier(config Config, argv []string) *MediaPipeClassifier {
	return &MediaPipeClassifier{
		config: config,
		argv:   argv,
	}
}

// Classify analyzes a frame and returns the detected hands with their gesture
// candidates sorted by descending score. Every failure wraps ErrClassification.
func (d *MediaPipeClassifier) Classify(frame *gocv.Mat) ([]Hand, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrClassification)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%w: classifier closed", ErrClassification)
	}
	if err := d.ensureStarted(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame: %w", ErrClassification, err)
	}
	defer buf.Close()

	hands, err := d.roundTrip(buf.GetBytes())
	if err != nil {
		// The stream is out of sync; restart on the next frame.
		d.kill()
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return hands, nil
}

func (d *MediaPipeClassifier) roundTrip(data []byte) ([]Hand, error) {
	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	// Read JSON response
	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return parseResponse([]byte(line))
}

// Close shuts down the Python process. Later calls to Classify fail.
func (d *MediaPipeClassifier) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.shutdown()
}

func (d *MediaPipeClassifier) ensureStarted() error {
	if d.started {
		return nil
	}

	args := append([]string{}, d.argv[1:]...)
	args = append(args,
		"--model", d.config.ModelPath,
		"--num-hands", strconv.Itoa(d.config.MaxHands),
		"--min-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
	)
	d.cmd = exec.Command(d.argv[0], args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start gesture service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()
	log.Printf("classifier: gesture service started (pid %d, model %s)", d.cmd.Process.Pid, d.config.ModelPath)

	return nil
}

func (d *MediaPipeClassifier) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.reset()

	return err
}

func (d *MediaPipeClassifier) kill() {
	if !d.started {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	d.stdin.Close()
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
	d.reset()
}

func (d *MediaPipeClassifier) reset() {
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
}

func (d *MediaPipeClassifier) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.shutdown(); err != nil {
			log.Printf("classifier: idle shutdown: %v", err)
		}
	})
}

func findServiceScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".thumbswitch", "scripts", serviceScript),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
// It checks for venv/bin/python relative to the project directory.
func findVenvPython() string {
	// Get executable directory to find project root
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".thumbswitch/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonResponse represents the JSON structure from the Python service.
type jsonResponse struct {
	Hands []jsonHand `json:"hands"`
	Error string     `json:"error,omitempty"`
}

type jsonHand struct {
	Handedness string         `json:"handedness"`
	Gestures   []jsonCategory `json:"gestures"`
}

type jsonCategory struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func parseResponse(line []byte) ([]Hand, error) {
	var response jsonResponse
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("service: %s", response.Error)
	}

	hands := make([]Hand, 0, len(response.Hands))
	for _, h := range response.Hands {
		hand := Hand{Handedness: h.Handedness}
		for _, g := range h.Gestures {
			hand.Gestures = append(hand.Gestures, Category{
				Label: gesture.Label(g.Label),
				Score: g.Score,
			})
		}
		hands = append(hands, hand)
	}
	sortHands(hands)

	return hands, nil
}
