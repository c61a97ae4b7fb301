package conversion

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"printkiosk/internal/fileutil"
	"printkiosk/internal/services"
)

// ArtifactURLPrefix is the URL path under which published artifacts are served.
const ArtifactURLPrefix = "/artifacts/"

var artifactNamePattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.pdf$`)

// Published describes an artifact moved out of the workspace.
type Published struct {
	Path string
	Name string
	URL  string
}

// Publisher takes ownership of a finished artifact.
type Publisher interface {
	Publish(ctx context.Context, artifactPath string) (Published, error)
}

// DirPublisher stores artifacts in a directory under time-ordered unique names.
type DirPublisher struct {
	dir string
}

// NewDirPublisher returns a publisher writing into dir.
func NewDirPublisher(dir string) (*DirPublisher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "init", "artifact directory not configured", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &DirPublisher{dir: dir}, nil
}

// Dir returns the artifact directory.
func (p *DirPublisher) Dir() string {
	return p.dir
}

// Publish copies artifactPath into the artifact directory.
func (p *DirPublisher) Publish(ctx context.Context, artifactPath string) (Published, error) {
	if err := ctx.Err(); err != nil {
		return Published{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Published{}, fmt.Errorf("artifact id: %w", err)
	}
	name := id.String() + ".pdf"
	dst := filepath.Join(p.dir, name)
	if _, err := fileutil.PublishFile(artifactPath, dst); err != nil {
		return Published{}, services.Wrap(services.ErrTransient, "publish", "copy", "store artifact", err)
	}
	return Published{Path: dst, Name: name, URL: ArtifactURLPrefix + name}, nil
}

// ResolveName maps a published artifact name to its path on disk.
func (p *DirPublisher) ResolveName(name string) (string, error) {
	if !artifactNamePattern.MatchString(name) {
		return "", services.Wrap(services.ErrValidation, "publish", "resolve", "invalid artifact name", nil)
	}
	full := filepath.Join(p.dir, name)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", services.Wrap(services.ErrNotFound, "publish", "resolve", fmt.Sprintf("artifact %s not found", name), err)
	}
	return full, nil
}

// ResolveArtifact maps an artifact URL (absolute or path-only) back to a path.
func (p *DirPublisher) ResolveArtifact(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "publish", "resolve", "invalid artifact url", err)
	}
	if !strings.HasPrefix(parsed.Path, ArtifactURLPrefix) {
		return "", services.Wrap(services.ErrValidation, "publish", "resolve", "url is not a kiosk artifact", nil)
	}
	return p.ResolveName(path.Base(parsed.Path))
}
