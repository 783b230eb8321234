package sentinel

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
)

// netlinkMonitor listens for udev block-device events naming one of the
// Sentinel's configured drives and wakes the poll loop immediately instead
// of waiting for the next tick.
type netlinkMonitor struct {
	drives map[string]struct{}
	logger *slog.Logger
	wake   chan struct{}

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkMonitor(drives []string, logger *slog.Logger) *netlinkMonitor {
	if len(drives) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(drives))
	for _, d := range drives {
		set[d] = struct{}{}
	}
	return &netlinkMonitor{
		drives: set,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start connects to the udev netlink socket. A connection failure is
// non-fatal: the Sentinel keeps working off its poll ticker alone.
func (m *netlinkMonitor) Start(ctx context.Context) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("netlink connect failed; relying on poll ticker only", "error", err)
		return
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true
	quit := m.quit
	go m.loop(ctx, quit)
}

// Stop disconnects the netlink monitor.
func (m *netlinkMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

func (m *netlinkMonitor) loop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	action := "change|add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":      "block",
			"ID_CDROM":       "1",
			"ID_CDROM_MEDIA": "1",
		},
	})

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	monitorQuit := conn.Monitor(queue, errs, rules)

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handle(uevent)
		case err := <-errs:
			m.logger.Debug("netlink monitor error", "error", err)
		}
	}
}

func (m *netlinkMonitor) handle(uevent netlink.UEvent) {
	devname := uevent.Env["DEVNAME"]
	if devname == "" {
		devpath := uevent.Env["DEVPATH"]
		if devpath != "" {
			parts := strings.Split(devpath, "/")
			devname = "/dev/" + parts[len(parts)-1]
		}
	}
	if devname == "" {
		return
	}
	if _, ok := m.drives[devname]; !ok {
		return
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
