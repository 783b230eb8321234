// Package ripdriver implements the Rip Driver: it invokes the external
// ripping tool, translates its robot-mode output into progress and
// title-complete events, runs a parallel filesystem poll as a completion
// backstop, and honors cancellation.
package ripdriver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is the single typed channel payload the driver emits, unifying
// progress updates and title-complete notifications (Design Note: the
// caller should not need two callback shapes to track one rip).
type Event struct {
	Kind           EventKind
	Percent        float64
	Message        string
	CurrentTitle   int
	TotalTitles    int
	CompletedFile  string
	CompletedIndex int // -1 if the index could not be extracted from the filename
}

// EventKind discriminates an Event's payload.
type EventKind int

const (
	EventProgress EventKind = iota
	EventTitleComplete
)

// Result is returned once Rip finishes, successfully or not.
type Result struct {
	Success       bool
	ProducedFiles []string
	ErrorMessage  string
}

// Driver invokes the external ripping tool (MakeMKV-compatible robot-mode
// protocol) for one job's selected titles.
type Driver struct {
	binary       string
	fsPollPeriod time.Duration
	logger       *slog.Logger

	cancelled atomic.Bool
	mu        sync.Mutex
	cmd       *exec.Cmd
}

// New builds a Driver. fsPollPeriod defaults to 3s if <= 0.
func New(binary string, fsPollPeriod time.Duration, logger *slog.Logger) *Driver {
	if fsPollPeriod <= 0 {
		fsPollPeriod = 3 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{binary: binary, fsPollPeriod: fsPollPeriod, logger: logger}
}

// Cancel terminates any in-flight child process; Rip then returns a
// not-success Result with ErrorMessage "cancelled".
func (d *Driver) Cancel() {
	d.cancelled.Store(true)
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Rip invokes the ripping tool for destDir. If titleIndices is empty, one
// "all titles" invocation runs; otherwise one sequential invocation runs
// per index. events receives
// every progress and title-complete notification in publication order and
// must not block for long — the driver does not buffer beyond the
// channel's own capacity.
func (d *Driver) Rip(ctx context.Context, device, destDir string, titleIndices []int, events chan<- Event) Result {
	if d.cancelled.Load() {
		return Result{Success: false, ErrorMessage: "cancelled"}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{Success: false, ErrorMessage: fmt.Sprintf("create destination: %v", err)}
	}

	seen := make(map[string]struct{})
	var produced []string

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	go d.pollFilesystem(pollCtx, destDir, seen, func(path string) {
		produced = appendUnique(produced, path)
		events <- completionEvent(path)
	})

	if len(titleIndices) == 0 {
		if err := d.invoke(ctx, device, destDir, nil, events, seen, &produced); err != nil {
			return Result{Success: false, ProducedFiles: produced, ErrorMessage: err.Error()}
		}
		return Result{Success: true, ProducedFiles: produced}
	}

	for _, idx := range titleIndices {
		if d.cancelled.Load() {
			return Result{Success: false, ProducedFiles: produced, ErrorMessage: "cancelled"}
		}
		if err := d.invoke(ctx, device, destDir, []int{idx}, events, seen, &produced); err != nil {
			return Result{Success: false, ProducedFiles: produced, ErrorMessage: err.Error()}
		}
	}
	return Result{Success: true, ProducedFiles: produced}
}

func (d *Driver) invoke(ctx context.Context, device, destDir string, titleIndices []int, events chan<- Event, seen map[string]struct{}, produced *[]string) error {
	args := []string{"--robot", "--progress=-same", "mkv", device}
	if len(titleIndices) == 0 {
		args = append(args, "all")
	} else {
		args = append(args, strconv.Itoa(titleIndices[0]))
	}
	args = append(args, destDir)

	cmd := exec.CommandContext(ctx, d.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	d.mu.Lock()
	d.cmd = cmd
	d.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", d.binary, err)
	}

	tracker := &progressTracker{totalTitles: len(titleIndices)}
	var wg sync.WaitGroup
	wg.Add(2)
	go d.scan(stdout, &wg, tracker, destDir, seen, produced, events)
	go d.scan(stderr, &wg, tracker, destDir, seen, produced, events)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if d.cancelled.Load() {
			return errors.New("cancelled")
		}
		return fmt.Errorf("%s exited: %w", d.binary, err)
	}
	return nil
}

func (d *Driver) scan(r io.Reader, wg *sync.WaitGroup, tracker *progressTracker, destDir string, seen map[string]struct{}, produced *[]string, events chan<- Event) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if evt, ok := tracker.parseLine(line); ok {
			events <- evt
		}
		if path, ok := parseCreatedFile(line, destDir); ok {
			if _, dup := seen[path]; !dup {
				seen[path] = struct{}{}
				*produced = appendUnique(*produced, path)
				events <- completionEvent(path)
			}
		}
	}
}

// pollFilesystem is the dual-completion-detection backstop: every poll
// period it scans destDir, and any file whose size is non-zero and
// unchanged since the previous poll is reported exactly once.
func (d *Driver) pollFilesystem(ctx context.Context, destDir string, seen map[string]struct{}, report func(path string)) {
	lastSize := make(map[string]int64)
	ticker := time.NewTicker(d.fsPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := os.ReadDir(destDir)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				path := filepath.Join(destDir, entry.Name())
				if _, already := seen[path]; already {
					continue
				}
				size := info.Size()
				prev, known := lastSize[path]
				lastSize[path] = size
				if known && size > 0 && size == prev {
					seen[path] = struct{}{}
					report(path)
				}
			}
		}
	}
}

func completionEvent(path string) Event {
	idx := extractTitleIndex(path)
	return Event{Kind: EventTitleComplete, CompletedFile: path, CompletedIndex: idx}
}

var titleIndexPattern = regexp.MustCompile(`_t(\d+)\.mkv$`)

// extractTitleIndex pulls the title index out of a "..._tNN.mkv" filename,
// returning -1 if the pattern doesn't match (caller falls back to rip
// order / sorted-titles position).
func extractTitleIndex(path string) int {
	m := titleIndexPattern.FindStringSubmatch(strings.ToLower(filepath.Base(path)))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

var createdFilePattern = regexp.MustCompile(`"([^"]+\.mkv)"`)

// parseCreatedFile looks for a ".mkv" filename alongside a "created" token
// in a MSG line and resolves it to an absolute path under destDir.
func parseCreatedFile(line, destDir string) (string, bool) {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, "created") || !strings.Contains(lower, ".mkv") {
		return "", false
	}
	m := createdFilePattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	name := m[1]
	if filepath.IsAbs(name) {
		return name, true
	}
	return filepath.Join(destDir, filepath.Base(name)), true
}

func appendUnique(files []string, path string) []string {
	for _, f := range files {
		if f == path {
			return files
		}
	}
	return append(files, path)
}

// progressTracker parses PRGC: lines (whose total sets totalTitles) and
// PRGV: lines (percent = current/max*100). PRGT: lines are ignored, and
// currentTitle keeps its initial value.
type progressTracker struct {
	totalTitles  int
	currentTitle int
}

func (t *progressTracker) parseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "PRGC:") {
		if total, ok := parsePRGCTotal(line); ok {
			t.totalTitles = total
		}
		return Event{}, false
	}

	if !strings.HasPrefix(line, "PRGV:") {
		return Event{}, false
	}
	payload := strings.TrimPrefix(line, "PRGV:")
	parts := strings.Split(payload, ",")
	if len(parts) < 3 {
		return Event{}, false
	}
	current, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	_, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	maximum, err3 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err1 != nil || err2 != nil || err3 != nil || maximum <= 0 {
		return Event{}, false
	}

	percent := (current / maximum) * 100
	return Event{
		Kind:         EventProgress,
		Percent:      percent,
		CurrentTitle: t.currentTitle,
		TotalTitles:  t.totalTitles,
	}, true
}

func parsePRGCTotal(line string) (int, bool) {
	payload := strings.TrimPrefix(line, "PRGC:")
	parts := strings.Split(payload, ",")
	if len(parts) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return 0, false
	}
	return n, true
}
