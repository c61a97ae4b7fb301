package devicefeed

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Mount is one entry from the mount table.
type Mount struct {
	Device     string
	MountPoint string
	FSType     string
}

// readMounts parses a /proc/mounts style file and returns block device
// mounts below root.
func readMounts(path, root string) ([]Mount, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mount table: %w", err)
	}
	defer file.Close()

	root = filepath.Clean(root)
	var mounts []Mount
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		device := unescapeMount(fields[0])
		point := filepath.Clean(unescapeMount(fields[1]))
		if !strings.HasPrefix(device, "/dev/") {
			continue
		}
		if point == root || !strings.HasPrefix(point, root+string(filepath.Separator)) {
			continue
		}
		mounts = append(mounts, Mount{Device: device, MountPoint: point, FSType: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	return mounts, nil
}

// unescapeMount decodes the octal escapes the kernel uses for spaces, tabs,
// newlines and backslashes in mount table fields.
func unescapeMount(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+4 <= len(value) {
			if n, err := strconv.ParseUint(value[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

// scanFiles lists regular files under dir whose extension is in exts,
// skipping hidden entries, sorted by path and capped at limit.
func scanFiles(dir string, exts map[string]struct{}, limit int) ([]File, error) {
	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		name := d.Name()
		if path != dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, File{
			Path:       path,
			Name:       name,
			Size:       info.Size(),
			ModTime:    info.ModTime().UTC(),
			MountPoint: dir,
		})
		if limit > 0 && len(files) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

func signature(files []File) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "%s|%d|%d\n", f.Path, f.Size, f.ModTime.UnixNano())
	}
	return b.String()
}
