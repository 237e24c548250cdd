package serialization

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ritzau/blockgraph/pkg/model"
)

// Format names a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ParseFormat accepts a format name or a MIME type.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json", "application/json":
		return FormatJSON, nil
	case "xml", "application/xml", "text/xml":
		return FormatXML, nil
	}
	return "", fmt.Errorf("unknown document format %q", s)
}

// FormatFromPath picks the format from a file extension, JSON unless the
// file ends in .xml.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return FormatXML
	}
	return FormatJSON
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatXML {
		return "application/xml"
	}
	return "application/json"
}

// SaveAs serializes ws in format f.
func SaveAs(ws *model.Workspace, f Format) ([]byte, error) {
	if f == FormatXML {
		return SaveXML(ws)
	}
	doc, err := Save(ws)
	if err != nil {
		return nil, err
	}
	return doc.Marshal()
}

// LoadAs replaces the content of ws with data encoded in format f.
func LoadAs(data []byte, f Format, ws *model.Workspace, opts LoadOptions) ([]string, error) {
	if f == FormatXML {
		return LoadXML(data, ws, opts)
	}
	doc, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return Load(doc, ws, opts)
}

// Convert re-encodes a document. The document is loaded into a scratch
// workspace over reg, so a document that would not load does not convert.
func Convert(data []byte, from, to Format, reg *model.Registry) ([]byte, int, error) {
	ws := model.NewWorkspace(reg)
	defer ws.Dispose()
	ws.DisableEvents()

	ids, err := LoadAs(data, from, ws, LoadOptions{})
	if err != nil {
		return nil, 0, err
	}
	out, err := SaveAs(ws, to)
	if err != nil {
		return nil, 0, err
	}
	return out, len(ids), nil
}
