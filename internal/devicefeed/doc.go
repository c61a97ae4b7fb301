// Package devicefeed reports removable media and the printable files on it.
//
// A rescan reads the mount table, keeps mounts below the configured root
// and diffs them against the previous scan, emitting connected,
// disconnected and files_updated events. Udev netlink events trigger
// rescans; when the netlink socket is unavailable the feed polls instead and
// periodically tries to reconnect.
package devicefeed
