// Package sentinel implements the Drive Sentinel: it polls configured
// optical drives, tracks (present, volume_label) per drive, and emits
// inserted/removed drive events to the Orchestrator and the Event Bus.
package sentinel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/events"
)

// Action distinguishes the two drive event kinds.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionRemoved  Action = "removed"
)

// DriveEvent is delivered to the Orchestrator callback and mirrored onto
// the Event Bus.
type DriveEvent struct {
	DriveID     string
	Action      Action
	VolumeLabel string
}

type driveState struct {
	present bool
	label   string
}

// Sentinel polls a fixed set of drives on a single goroutine and reports
// state changes. Handler is called synchronously from that goroutine;
// Event Bus publication never blocks it (Bus.Publish is itself
// non-blocking).
type Sentinel struct {
	cfg     *config.Config
	bus     *events.Bus
	logger  *slog.Logger
	handler func(DriveEvent)

	mu    sync.Mutex
	state map[string]driveState
}

// New builds a Sentinel over the drives named in cfg.Sentinel.Drives.
// handler receives every coalesced drive event; it must not block.
func New(cfg *config.Config, bus *events.Bus, logger *slog.Logger, handler func(DriveEvent)) *Sentinel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sentinel{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		handler: handler,
		state:   make(map[string]driveState, len(cfg.Sentinel.Drives)),
	}
}

// Run polls every configured drive at cfg.Sentinel.PollInterval until ctx
// is cancelled. It coalesces multiple status reads within one poll cycle
// into at most one event per drive.
func (s *Sentinel) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.Sentinel.PollInterval * float64(time.Second))
	if interval <= 0 {
		interval = 2 * time.Second
	}

	s.pollOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var netlinkWake <-chan struct{}
	if s.cfg.Sentinel.UseNetlink {
		monitor := newNetlinkMonitor(s.cfg.Sentinel.Drives, s.logger)
		if monitor != nil {
			monitor.Start(ctx)
			defer monitor.Stop()
			netlinkWake = monitor.wake
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		case <-netlinkWake:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce checks every configured drive once and reports at most one
// coalesced event per drive whose (present, label) pair changed.
func (s *Sentinel) pollOnce(ctx context.Context) {
	for _, drive := range s.cfg.Sentinel.Drives {
		status, err := checkDriveStatus(drive)
		if err != nil {
			s.logger.Debug("drive status check failed", "drive", drive, "error", err)
			continue
		}

		present := status.present()
		label := ""
		if present {
			if l, err := readLabel(ctx, drive, 5*time.Second); err == nil {
				label = l
			}
		}

		s.mu.Lock()
		prev, known := s.state[drive]
		changed := !known || prev.present != present || (present && prev.label != label)
		if changed {
			s.state[drive] = driveState{present: present, label: label}
		}
		s.mu.Unlock()

		if !changed {
			continue
		}

		action := ActionRemoved
		if present {
			action = ActionInserted
		}
		evt := DriveEvent{DriveID: drive, Action: action, VolumeLabel: label}

		s.logger.Info("drive state changed", "drive", drive, "action", action, "label", label)

		if s.handler != nil {
			s.handler(evt)
		}
		if s.bus != nil {
			s.bus.Publish(events.Event{
				Type:    events.TypeDriveEvent,
				DriveID: drive,
				Fields: map[string]any{
					"action": string(action),
					"label":  label,
				},
			})
		}
	}
}

// UsableLabel returns label unless it is too generic to seed the
// Orchestrator's initial content guess.
func UsableLabel(label string) string {
	if isUnusableLabel(label) {
		return ""
	}
	return label
}
