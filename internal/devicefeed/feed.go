package devicefeed

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"printkiosk/internal/config"
	"printkiosk/internal/logging"
)

const (
	defaultMountsFile     = "/proc/mounts"
	defaultPollInterval   = 5 * time.Second
	defaultReconnectEvery = 12
	subscriberBuffer      = 32
)

// Mode reports how the feed learns about changes.
type Mode string

const (
	ModeStopped Mode = "stopped"
	ModeNetlink Mode = "netlink"
	ModePoll    Mode = "poll"
)

// Option configures a Feed.
type Option func(*Feed)

// WithMountsFile overrides the mount table location.
func WithMountsFile(path string) Option {
	return func(f *Feed) {
		if path != "" {
			f.mountsFile = path
		}
	}
}

// WithPollInterval sets the polling period used without netlink.
func WithPollInterval(interval time.Duration) Option {
	return func(f *Feed) {
		if interval > 0 {
			f.pollInterval = interval
		}
	}
}

// WithSettleDelays sets the delays after a udev event at which mounts are
// rescanned, giving the automounter time to act.
func WithSettleDelays(delays ...time.Duration) Option {
	return func(f *Feed) {
		f.settle = delays
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// withConnector overrides how the udev source is opened.
func withConnector(connect func() (ueventSource, error)) Option {
	return func(f *Feed) {
		if connect != nil {
			f.connect = connect
		}
	}
}

// Feed tracks mounted removable media and fans out change events.
type Feed struct {
	root           string
	exts           map[string]struct{}
	maxFiles       int
	mountsFile     string
	pollInterval   time.Duration
	reconnectEvery int
	settle         []time.Duration
	connect        func() (ueventSource, error)
	logger         *slog.Logger

	scanMu sync.Mutex

	mu     sync.Mutex
	mounts map[string]mountState
	subs   map[chan Event]struct{}
	mode   Mode
	cancel context.CancelFunc
	done   chan struct{}
}

type mountState struct {
	device    string
	files     []File
	signature string
}

// New constructs a feed watching mounts below root for files with the given
// extensions.
func New(root string, extensions []string, maxFiles int, opts ...Option) *Feed {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	f := &Feed{
		root:           root,
		exts:           exts,
		maxFiles:       maxFiles,
		mountsFile:     defaultMountsFile,
		pollInterval:   defaultPollInterval,
		reconnectEvery: defaultReconnectEvery,
		settle:         []time.Duration{time.Second, 3 * time.Second},
		connect:        connectNetlink,
		logger:         logging.NewNop(),
		mounts:         make(map[string]mountState),
		subs:           make(map[chan Event]struct{}),
		mode:           ModeStopped,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.NewComponentLogger(f.logger, "devicefeed")
	return f
}

// NewFromConfig builds a feed from the devices section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Feed {
	return New(cfg.Devices.MountRoot, cfg.Devices.Extensions, cfg.Devices.MaxFiles,
		WithPollInterval(time.Duration(cfg.Devices.PollIntervalSeconds)*time.Second),
		WithLogger(logger),
	)
}

// Subscribe returns a channel receiving events published after the call.
// Slow subscribers miss events; Files always has the current catalog.
func (f *Feed) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

// Files returns every known candidate file ordered by path.
func (f *Feed) Files() []File {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []File
	for _, state := range f.mounts {
		out = append(out, state.files...)
	}
	slices.SortFunc(out, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Mode reports the current change source.
func (f *Feed) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Rescan reads the mount table and publishes the differences since the
// previous scan.
func (f *Feed) Rescan() error {
	f.scanMu.Lock()
	defer f.scanMu.Unlock()

	mounts, err := readMounts(f.mountsFile, f.root)
	if err != nil {
		return err
	}

	next := make(map[string]mountState, len(mounts))
	for _, m := range mounts {
		files, err := scanFiles(m.MountPoint, f.exts, f.maxFiles)
		if err != nil {
			f.logger.Debug("mount not readable", logging.String("mount_point", m.MountPoint), logging.Error(err))
			continue
		}
		next[m.MountPoint] = mountState{device: m.Device, files: files, signature: signature(files)}
	}

	now := time.Now().UTC()
	var events []Event

	f.mu.Lock()
	prev := f.mounts
	f.mounts = next
	f.mu.Unlock()

	for point, old := range prev {
		if _, ok := next[point]; !ok {
			events = append(events, Event{Type: EventDisconnected, Device: old.device, MountPoint: point, At: now})
		}
	}
	for point, state := range next {
		old, existed := prev[point]
		if !existed {
			events = append(events, Event{Type: EventConnected, Device: state.device, MountPoint: point, At: now})
		}
		if !existed || old.signature != state.signature {
			events = append(events, Event{Type: EventFilesUpdated, Device: state.device, MountPoint: point, Files: slices.Clone(state.files), At: now})
		}
	}
	slices.SortStableFunc(events, func(a, b Event) int { return strings.Compare(a.MountPoint, b.MountPoint) })

	for _, evt := range events {
		f.publish(evt)
	}
	return nil
}

func (f *Feed) publish(evt Event) {
	f.logger.Info("device event",
		logging.String(logging.FieldEventType, "device_"+string(evt.Type)),
		logging.String("device", evt.Device),
		logging.String("mount_point", evt.MountPoint),
		logging.Int("files", len(evt.Files)),
	)
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Start performs an initial scan and begins watching. A netlink failure is
// not fatal: the feed polls instead.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.cancel != nil {
		f.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	if err := f.Rescan(); err != nil {
		logging.WarnWithContext(f.logger, "initial mount scan failed", "devicefeed_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the mount table is readable"),
			logging.String(logging.FieldImpact, "USB documents are not listed until the next scan"),
		)
	}

	go func() {
		defer close(done)
		f.run(runCtx)
	}()
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	f.setMode(ModeStopped)
}

func (f *Feed) setMode(mode Mode) {
	f.mu.Lock()
	changed := f.mode != mode
	f.mode = mode
	f.mu.Unlock()
	if changed {
		f.logger.Info("device feed mode", logging.String("mode", string(mode)))
	}
}

// run alternates between netlink watching and polling until ctx ends.
func (f *Feed) run(ctx context.Context) {
	for ctx.Err() == nil {
		src, err := f.connect()
		if err == nil {
			f.setMode(ModeNetlink)
			f.watch(ctx, src)
			_ = src.Close()
			if ctx.Err() != nil {
				return
			}
		} else {
			logging.WarnWithContext(f.logger, "netlink unavailable; polling mounts", "netlink_connect_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "ensure the service may open netlink sockets"),
				logging.String(logging.FieldImpact, "USB changes are noticed on the poll interval"),
			)
		}
		f.setMode(ModePoll)
		f.poll(ctx, f.reconnectEvery)
	}
}

// poll rescans every interval and returns after ticks ticks so the caller
// can retry netlink.
func (f *Feed) poll(ctx context.Context, ticks int) {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for i := 0; i < ticks; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Rescan(); err != nil {
				f.logger.Debug("mount scan failed", logging.Error(err))
			}
		}
	}
}
