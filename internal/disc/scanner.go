package disc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"ingestorchestrator/internal/orchestrator"
)

// Title represents one MakeMKV title entry parsed from robot-mode info output.
type Title struct {
	ID           int
	Name         string
	Duration     int
	Chapters     int
	Playlist     string
	SegmentCount int
	SegmentMap   string
	SizeBytes    int64
	Resolution   string
	Tracks       []Track
}

// ScanResult captures MakeMKV scan output used for identification.
type ScanResult struct {
	Fingerprint string
	Titles      []Title
	RawOutput   string
}

// Executor abstracts command execution for the scanner.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// commandExecutor executes commands using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.Output()
}

// Scanner wraps MakeMKV's robot-mode info command to gather disc metadata.
type Scanner struct {
	binary string
	exec   Executor
}

// NewScanner constructs a Scanner for the provided MakeMKV binary.
func NewScanner(binary string) *Scanner {
	return &Scanner{
		binary: strings.TrimSpace(binary),
		exec:   commandExecutor{},
	}
}

// NewScannerWithExecutor allows injecting a custom executor for testing.
func NewScannerWithExecutor(binary string, exec Executor) *Scanner {
	if exec == nil {
		exec = commandExecutor{}
	}
	return &Scanner{binary: strings.TrimSpace(binary), exec: exec}
}

// ErrFingerprintMissing is returned when MakeMKV output lacks a fingerprint.
var ErrFingerprintMissing = errors.New("makemkv scan missing fingerprint")

// Scan runs MakeMKV in robot mode against device and parses its CINFO/TINFO/
// SINFO lines into a ScanResult.
func (s *Scanner) Scan(ctx context.Context, device string) (*ScanResult, error) {
	if s.binary == "" {
		return nil, errors.New("makemkv binary not configured")
	}

	arg := normalizeDeviceArg(device)
	args := []string{"-r", "--cache=1", "info", arg}
	output, err := s.exec.Run(ctx, s.binary, args)
	if err != nil {
		stderr := extractMakemkvStderr(err)
		if msg := extractMakemkvErrorMessage(output, stderr); msg != "" {
			return nil, fmt.Errorf("makemkv info failed: %s", msg)
		}
		return nil, fmt.Errorf("makemkv info failed: %w", err)
	}

	parser := makeMKVParser{}
	result, err := parser.Parse(output)
	if err != nil {
		return nil, err
	}
	result.RawOutput = string(output)
	if result.Fingerprint == "" {
		return nil, ErrFingerprintMissing
	}
	return result, nil
}

// ListTitles satisfies orchestrator.DiscScanner, translating MakeMKV's raw
// title metadata into the orchestrator's disc-agnostic view. A title counts
// as a play-all when its segment map stitches together more than one source
// segment, which is how MakeMKV represents compiled playlists.
func (s *Scanner) ListTitles(ctx context.Context, devicePath string) ([]orchestrator.DiscTitle, error) {
	result, err := s.Scan(ctx, devicePath)
	if err != nil {
		return nil, err
	}

	titles := make([]orchestrator.DiscTitle, 0, len(result.Titles))
	for _, t := range result.Titles {
		titles = append(titles, orchestrator.DiscTitle{
			Index:           t.ID,
			DurationSeconds: t.Duration,
			ExpectedBytes:   t.SizeBytes,
			ChapterCount:    t.Chapters,
			Resolution:      t.Resolution,
			IsPlayAll:       t.SegmentCount > 1,
		})
	}
	return titles, nil
}
