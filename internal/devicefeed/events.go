package devicefeed

import "time"

// EventType names a device feed event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventFilesUpdated EventType = "files_updated"
)

// File is a candidate document found on removable media.
type File struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"modTime"`
	MountPoint string    `json:"mountPoint"`
}

// Event is one change observed by the feed.
type Event struct {
	Type       EventType `json:"type"`
	Device     string    `json:"device"`
	MountPoint string    `json:"mountPoint"`
	Files      []File    `json:"files,omitempty"`
	At         time.Time `json:"at"`
}
