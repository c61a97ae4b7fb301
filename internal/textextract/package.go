package textextract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// packageMembers lists, per container layout, the XML parts holding body text.
var packageMembers = []func(names []string) []string{
	exact("word/document.xml"),
	numbered("ppt/slides/slide", ".xml"),
	exact("content.xml"),
}

func extractPackage(filePath string, limit int) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
		names = append(names, f.Name)
	}

	var members []string
	for _, pick := range packageMembers {
		if members = pick(names); len(members) > 0 {
			break
		}
	}
	if len(members) == 0 {
		return "", errors.New("no text parts in package")
	}

	var b strings.Builder
	for i, name := range members {
		if i > 0 {
			b.WriteString("\f")
		}
		if err := xmlText(files[name], &b, limit*4); err != nil {
			return "", err
		}
		if b.Len() > limit*4 {
			break
		}
	}
	return b.String(), nil
}

func xmlText(f *zip.File, b *strings.Builder, budget int) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	decoder.Strict = false
	for b.Len() <= budget {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			switch t.Name.Local {
			case "tab":
				b.WriteString("\t")
			case "br", "line-break":
				b.WriteString("\n")
			case "s":
				b.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "h", "table-row", "tr":
				b.WriteString("\n")
			case "table-cell", "tc":
				b.WriteString("\t")
			}
		}
	}
	return nil
}

func exact(name string) func([]string) []string {
	return func(names []string) []string {
		for _, candidate := range names {
			if candidate == name {
				return []string{name}
			}
		}
		return nil
	}
}

// numbered returns members named prefix<N>suffix in numeric order.
func numbered(prefix, suffix string) func([]string) []string {
	return func(names []string) []string {
		type member struct {
			name  string
			index int
		}
		var found []member
		for _, name := range names {
			if path.Dir(name) != path.Dir(prefix) || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
				continue
			}
			index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
			if err != nil {
				continue
			}
			found = append(found, member{name: name, index: index})
		}
		sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })
		out := make([]string, len(found))
		for i, m := range found {
			out[i] = m.name
		}
		return out
	}
}
