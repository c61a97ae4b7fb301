package devicefeed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadMounts(t *testing.T) {
	table := filepath.Join(t.TempDir(), "mounts")
	writeFile(t, table, strings.Join([]string{
		"/dev/sda1 / ext4 rw,relatime 0 0",
		"tmpfs /media/tmp tmpfs rw 0 0",
		"/dev/sdb1 /media/kiosk/USB\\040DRIVE vfat rw,nosuid 0 0",
		"/dev/sdc1 /media ext4 rw 0 0",
		"/dev/sdd1 /mediaextra vfat rw 0 0",
		"garbage",
	}, "\n"))

	mounts, err := readMounts(table, "/media")
	if err != nil {
		t.Fatalf("readMounts returned error: %v", err)
	}
	if len(mounts) != 1 {
		t.Fatalf("expected one removable mount, got %+v", mounts)
	}
	if mounts[0].Device != "/dev/sdb1" || mounts[0].MountPoint != "/media/kiosk/USB DRIVE" || mounts[0].FSType != "vfat" {
		t.Fatalf("unexpected mount %+v", mounts[0])
	}
}

func TestScanFilesFiltersAndCaps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.pdf"), "pdf")
	writeFile(t, filepath.Join(dir, "A.DOCX"), "docx")
	writeFile(t, filepath.Join(dir, "setup.exe"), "exe")
	writeFile(t, filepath.Join(dir, ".hidden.pdf"), "x")
	writeFile(t, filepath.Join(dir, ".Trash", "old.pdf"), "x")
	writeFile(t, filepath.Join(dir, "school", "essay.odt"), "odt")

	exts := map[string]struct{}{".pdf": {}, ".docx": {}, ".odt": {}}
	files, err := scanFiles(dir, exts, 0)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "A.DOCX,b.pdf,essay.odt" {
		t.Fatalf("unexpected files %q", got)
	}

	capped, err := scanFiles(dir, exts, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(capped))
	}
}

type fixture struct {
	root  string
	table string
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	fx := fixture{root: filepath.Join(dir, "media"), table: filepath.Join(dir, "mounts")}
	writeFile(t, fx.table, "")
	return fx
}

func (fx fixture) mount(t *testing.T, device, name string) string {
	t.Helper()
	point := filepath.Join(fx.root, name)
	if err := os.MkdirAll(point, 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(fx.table, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(device + " " + point + " vfat rw 0 0\n"); err != nil {
		t.Fatal(err)
	}
	return point
}

func (fx fixture) unmountAll(t *testing.T) {
	writeFile(t, fx.table, "")
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device event")
		return Event{}
	}
}

func TestRescanPublishesDiffs(t *testing.T) {
	fx := newFixture(t)
	feed := New(fx.root, []string{"pdf", ".DOCX"}, 0, WithMountsFile(fx.table))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := feed.Subscribe(ctx)

	point := fx.mount(t, "/dev/sdb1", "usb1")
	writeFile(t, filepath.Join(point, "report.pdf"), "%PDF-1.4")
	if err := feed.Rescan(); err != nil {
		t.Fatal(err)
	}
	if evt := nextEvent(t, events); evt.Type != EventConnected || evt.Device != "/dev/sdb1" {
		t.Fatalf("expected connected event, got %+v", evt)
	}
	if evt := nextEvent(t, events); evt.Type != EventFilesUpdated || len(evt.Files) != 1 {
		t.Fatalf("expected files_updated with one file, got %+v", evt)
	}

	if err := feed.Rescan(); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-events:
		t.Fatalf("unchanged rescan should be silent, got %+v", evt)
	default:
	}

	writeFile(t, filepath.Join(point, "letter.docx"), "PK")
	if err := feed.Rescan(); err != nil {
		t.Fatal(err)
	}
	if evt := nextEvent(t, events); evt.Type != EventFilesUpdated || len(evt.Files) != 2 {
		t.Fatalf("expected files_updated with two files, got %+v", evt)
	}
	if files := feed.Files(); len(files) != 2 {
		t.Fatalf("expected catalog of 2 files, got %d", len(files))
	}

	fx.unmountAll(t)
	if err := feed.Rescan(); err != nil {
		t.Fatal(err)
	}
	if evt := nextEvent(t, events); evt.Type != EventDisconnected || evt.MountPoint != point {
		t.Fatalf("expected disconnected event, got %+v", evt)
	}
	if files := feed.Files(); len(files) != 0 {
		t.Fatalf("expected empty catalog after removal, got %d", len(files))
	}
}

func TestStartFallsBackToPolling(t *testing.T) {
	fx := newFixture(t)
	feed := New(fx.root, []string{".pdf"}, 0,
		WithMountsFile(fx.table),
		WithPollInterval(10*time.Millisecond),
		withConnector(func() (ueventSource, error) { return nil, errors.New("operation not permitted") }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := feed.Subscribe(ctx)

	if err := feed.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer feed.Stop()

	fx.mount(t, "/dev/sdb1", "stick")
	if evt := nextEvent(t, events); evt.Type != EventConnected {
		t.Fatalf("expected polling to detect the mount, got %+v", evt)
	}
	if feed.Mode() != ModePoll {
		t.Fatalf("expected poll mode, got %s", feed.Mode())
	}
}

type fakeSource struct {
	ready  chan struct{}
	queue  chan netlink.UEvent
	errs   chan error
	closed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{ready: make(chan struct{}), closed: make(chan struct{})}
}

func (s *fakeSource) Monitor(queue chan netlink.UEvent, errs chan error, _ netlink.Matcher) chan struct{} {
	s.queue = queue
	s.errs = errs
	close(s.ready)
	return make(chan struct{})
}

func (s *fakeSource) Close() error {
	close(s.closed)
	return nil
}

func TestNetlinkEventTriggersRescan(t *testing.T) {
	fx := newFixture(t)
	src := newFakeSource()
	connects := 0
	feed := New(fx.root, []string{".pdf"}, 0,
		WithMountsFile(fx.table),
		WithPollInterval(time.Hour),
		WithSettleDelays(),
		withConnector(func() (ueventSource, error) {
			connects++
			if connects == 1 {
				return src, nil
			}
			return nil, errors.New("gone")
		}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := feed.Subscribe(ctx)
	if err := feed.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer feed.Stop()

	<-src.ready
	if feed.Mode() != ModeNetlink {
		t.Fatalf("expected netlink mode, got %s", feed.Mode())
	}

	fx.mount(t, "/dev/sdc1", "camera")
	src.queue <- netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "/dev/sdc1"}}
	if evt := nextEvent(t, events); evt.Type != EventConnected || evt.Device != "/dev/sdc1" {
		t.Fatalf("expected connected event after uevent, got %+v", evt)
	}

	src.errs <- errors.New("socket closed")
	select {
	case <-src.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected source to be closed after a monitor error")
	}
	deadline := time.Now().Add(2 * time.Second)
	for feed.Mode() != ModePoll && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if feed.Mode() != ModePoll {
		t.Fatalf("expected fallback to polling, got %s", feed.Mode())
	}
}
