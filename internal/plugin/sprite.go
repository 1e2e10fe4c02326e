package plugin

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"regexp"
	"strings"
)

type svgFile struct {
	XMLName xml.Name `xml:"svg"`
	ViewBox string   `xml:"viewBox,attr"`
	Width   string   `xml:"width,attr"`
	Height  string   `xml:"height,attr"`
	Inner   []byte   `xml:",innerxml"`
}

var symbolIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Sprite builds an SVG symbol sprite: every input icon becomes a <symbol>
// whose id is the prefix plus the icon's file name.
type Sprite struct {
	Prefix string
}

// Name returns "sprite".
func (s Sprite) Name() string { return "sprite" }

// Combine folds the icons into one hidden <svg> document. The XML prolog of
// each icon is dropped and its viewBox kept.
func (s Sprite) Combine(_ context.Context, name string, in []Asset) (Asset, error) {
	var buf bytes.Buffer
	buf.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" style="display:none">`)
	buf.WriteByte('\n')
	seen := make(map[string]string, len(in))
	for _, icon := range in {
		id := s.symbolID(icon.Rel)
		if prev, dup := seen[id]; dup {
			return Asset{}, fmt.Errorf("sprite: %s and %s both map to symbol id %s", prev, icon.Source, id)
		}
		seen[id] = icon.Source
		var doc svgFile
		if err := xml.Unmarshal(icon.Data, &doc); err != nil {
			return Asset{}, fmt.Errorf("sprite: parse %s: %w", icon.Source, err)
		}
		viewBox := doc.ViewBox
		if viewBox == "" && doc.Width != "" && doc.Height != "" {
			viewBox = fmt.Sprintf("0 0 %s %s", trimUnit(doc.Width), trimUnit(doc.Height))
		}
		buf.WriteString(`<symbol id="`)
		_ = xml.EscapeText(&buf, []byte(id))
		buf.WriteByte('"')
		if viewBox != "" {
			buf.WriteString(` viewBox="`)
			_ = xml.EscapeText(&buf, []byte(viewBox))
			buf.WriteByte('"')
		}
		buf.WriteByte('>')
		buf.Write(bytes.TrimSpace(doc.Inner))
		buf.WriteString("</symbol>\n")
	}
	buf.WriteString("</svg>\n")
	return Asset{Rel: name, Data: buf.Bytes()}, nil
}

func (s Sprite) symbolID(rel string) string {
	base := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	return s.Prefix + symbolIDUnsafe.ReplaceAllString(base, "-")
}

func trimUnit(v string) string {
	return strings.TrimSuffix(strings.TrimSpace(v), "px")
}
