package devicefeed

import (
	"context"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"printkiosk/internal/logging"
)

// ueventSource is the part of netlink.UEventConn the feed uses.
type ueventSource interface {
	Monitor(queue chan netlink.UEvent, errs chan error, matcher netlink.Matcher) chan struct{}
	Close() error
}

func connectNetlink() (ueventSource, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	return conn, nil
}

// usbBlockMatcher matches USB block devices being added or removed.
func usbBlockMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"ID_BUS":    "usb",
		},
	})
	return rules
}

// watch rescans after each matching uevent until ctx ends or the socket
// reports an error.
func (f *Feed) watch(ctx context.Context, src ueventSource) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := src.Monitor(queue, errs, usbBlockMatcher())
	defer close(quit)

	var pending []<-chan time.Time
	for {
		var next <-chan time.Time
		if len(pending) > 0 {
			next = pending[0]
		}
		select {
		case <-ctx.Done():
			return
		case uevent := <-queue:
			f.logger.Info("usb block event",
				logging.String(logging.FieldEventType, "netlink_usb_event"),
				logging.String("action", string(uevent.Action)),
				logging.String("device", uevent.Env["DEVNAME"]),
			)
			if err := f.Rescan(); err != nil {
				f.logger.Debug("mount scan failed", logging.Error(err))
			}
			pending = pending[:0]
			for _, delay := range f.settle {
				pending = append(pending, time.After(delay))
			}
		case <-next:
			pending = pending[1:]
			if err := f.Rescan(); err != nil {
				f.logger.Debug("mount scan failed", logging.Error(err))
			}
		case err := <-errs:
			logging.WarnWithContext(f.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "falling back to mount polling"),
			)
			return
		}
	}
}
