// Package inject places the SVG sprite into a page template right after the
// opening body tag. The sprite is wrapped in marker comments so later runs
// replace it in place instead of stacking copies.
package inject

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
)

const (
	StartMarker = "<!-- assetflow:sprite:start -->"
	EndMarker   = "<!-- assetflow:sprite:end -->"
)

// ErrNoBody is returned for documents without an opening body tag.
var ErrNoBody = errors.New("inject: document has no <body> tag")

var bodyOpen = regexp.MustCompile(`(?i)<body(?:[\s/>]|<\?)`)

// Inject returns doc with sprite placed between the markers. Existing marker
// blocks are replaced, so injecting the same sprite twice is a no-op.
func Inject(doc, sprite []byte) ([]byte, error) {
	block := make([]byte, 0, len(StartMarker)+len(sprite)+len(EndMarker)+2)
	block = append(block, StartMarker...)
	block = append(block, '\n')
	block = append(block, bytes.TrimSpace(sprite)...)
	block = append(block, '\n')
	block = append(block, EndMarker...)

	start, end, err := markerBlock(doc)
	if err != nil {
		return nil, err
	}
	if start >= 0 {
		out := make([]byte, 0, len(doc)-(end-start)+len(block))
		out = append(out, doc[:start]...)
		out = append(out, block...)
		out = append(out, doc[end:]...)
		return out, nil
	}

	at, err := bodyEnd(doc)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(doc)+len(block)+1)
	out = append(out, doc[:at]...)
	out = append(out, '\n')
	out = append(out, block...)
	out = append(out, doc[at:]...)
	return out, nil
}

// Remove returns doc without its sprite block, including the line break
// Inject put before it. Documents without markers are returned unchanged.
func Remove(doc []byte) ([]byte, error) {
	start, end, err := markerBlock(doc)
	if err != nil || start < 0 {
		return doc, err
	}
	if start > 0 && doc[start-1] == '\n' {
		start--
	}
	out := make([]byte, 0, len(doc)-(end-start))
	out = append(out, doc[:start]...)
	out = append(out, doc[end:]...)
	return out, nil
}

// markerBlock locates an existing sprite block. start is -1 when there is
// none.
func markerBlock(doc []byte) (start, end int, err error) {
	start = bytes.Index(doc, []byte(StartMarker))
	if start < 0 {
		return -1, -1, nil
	}
	end = bytes.Index(doc[start:], []byte(EndMarker))
	if end < 0 {
		return -1, -1, fmt.Errorf("inject: start marker without end marker")
	}
	return start, start + end + len(EndMarker), nil
}

// bodyEnd returns the offset just past the opening body tag. Quoted
// attribute values and embedded <?php ... ?> blocks may contain '>' and are
// skipped.
func bodyEnd(doc []byte) (int, error) {
	loc := bodyOpen.FindIndex(doc)
	if loc == nil {
		return 0, ErrNoBody
	}
	for i := loc[0] + len("<body"); i < len(doc); i++ {
		switch c := doc[i]; {
		case c == '>':
			return i + 1, nil
		case c == '"' || c == '\'':
			j := bytes.IndexByte(doc[i+1:], c)
			if j < 0 {
				return 0, ErrNoBody
			}
			i += j + 1
		case c == '<' && i+1 < len(doc) && doc[i+1] == '?':
			j := bytes.Index(doc[i+2:], []byte("?>"))
			if j < 0 {
				return 0, ErrNoBody
			}
			i += j + 3
		}
	}
	return 0, ErrNoBody
}

// Writer persists rewritten templates.
type Writer interface {
	WriteAtomic(path string, data []byte) error
}

// InjectFile injects sprite into the template at path and writes it back
// through w. The file is left untouched when nothing changes. It reports
// whether the template was rewritten.
func InjectFile(w Writer, path string, sprite []byte) (bool, error) {
	return rewrite(w, path, func(doc []byte) ([]byte, error) {
		return Inject(doc, sprite)
	})
}

// RemoveFile strips the sprite block from the template at path.
func RemoveFile(w Writer, path string) (bool, error) {
	return rewrite(w, path, Remove)
}

func rewrite(w Writer, path string, edit func([]byte) ([]byte, error)) (bool, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("inject: read template: %w", err)
	}
	out, err := edit(doc)
	if err != nil {
		return false, fmt.Errorf("inject: %s: %w", path, err)
	}
	if bytes.Equal(out, doc) {
		return false, nil
	}
	if err := w.WriteAtomic(path, out); err != nil {
		return false, err
	}
	return true, nil
}
