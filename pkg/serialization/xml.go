package serialization

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

// XMLNamespace is written on the root element of saved documents.
const XMLNamespace = "https://developers.google.com/blockly/xml"

type xmlDocument struct {
	XMLName   xml.Name
	Variables *xmlVariables  `xml:"variables"`
	Blocks    []*xmlBlock    `xml:"block"`
	Comments  []xmlWSComment `xml:"comment"`
}

type xmlVariables struct {
	Variables []xmlVariable `xml:"variable"`
}

type xmlVariable struct {
	ID   string `xml:"id,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
	Name string `xml:",chardata"`
}

type xmlWSComment struct {
	ID     string  `xml:"id,attr,omitempty"`
	X      float64 `xml:"x,attr"`
	Y      float64 `xml:"y,attr"`
	Width  float64 `xml:"w,attr,omitempty"`
	Height float64 `xml:"h,attr,omitempty"`
	Text   string  `xml:",chardata"`
}

// xmlBlock is used for both <block> and <shadow>; the element name comes
// from the field that holds it.
type xmlBlock struct {
	Type       string      `xml:"type,attr"`
	ID         string      `xml:"id,attr,omitempty"`
	X          *float64    `xml:"x,attr,omitempty"`
	Y          *float64    `xml:"y,attr,omitempty"`
	Collapsed  bool        `xml:"collapsed,attr,omitempty"`
	Disabled   bool        `xml:"disabled,attr,omitempty"`
	Deletable  *bool       `xml:"deletable,attr,omitempty"`
	Movable    *bool       `xml:"movable,attr,omitempty"`
	Editable   *bool       `xml:"editable,attr,omitempty"`
	Inline     *bool       `xml:"inline,attr,omitempty"`
	Comment    *xmlComment `xml:"comment"`
	Data       string      `xml:"data,omitempty"`
	Fields     []xmlField  `xml:"field"`
	Values     []xmlInput  `xml:"value"`
	Statements []xmlInput  `xml:"statement"`
	Next       *xmlInput   `xml:"next"`
}

type xmlComment struct {
	Text string `xml:",chardata"`
}

type xmlField struct {
	Name         string `xml:"name,attr"`
	ID           string `xml:"id,attr,omitempty"`
	VariableType string `xml:"variabletype,attr,omitempty"`
	Value        string `xml:",chardata"`
}

type xmlInput struct {
	Name   string    `xml:"name,attr,omitempty"`
	Shadow *xmlBlock `xml:"shadow"`
	Block  *xmlBlock `xml:"block"`
}

// SaveXML serializes ws as an XML document.
func SaveXML(ws *model.Workspace) ([]byte, error) {
	doc, err := Save(ws)
	if err != nil {
		return nil, err
	}
	return DocumentToXML(doc, ws.Registry())
}

// LoadXML replaces the content of ws with an XML document. It behaves like
// Load.
func LoadXML(data []byte, ws *model.Workspace, opts LoadOptions) ([]string, error) {
	doc, err := DocumentFromXML(data, ws.Registry())
	if err != nil {
		return nil, err
	}
	return Load(doc, ws, opts)
}

// DocumentToXML converts a JSON document to XML. reg tells value inputs
// from statement inputs. Members other than variables, blocks and
// workspace comments have no XML form and are dropped.
func DocumentToXML(doc Document, reg *model.Registry) ([]byte, error) {
	out := xmlDocument{XMLName: xml.Name{Space: XMLNamespace, Local: "xml"}}
	for name, data := range doc {
		switch name {
		case VariablesSerializer{}.Name():
			var vars []VariableState
			if err := json.Unmarshal(data, &vars); err != nil {
				return nil, fmt.Errorf("parsing variables: %w", err)
			}
			if len(vars) > 0 {
				out.Variables = &xmlVariables{}
			}
			for _, v := range vars {
				out.Variables.Variables = append(out.Variables.Variables, xmlVariable{ID: v.ID, Type: v.Type, Name: v.Name})
			}
		case BlocksSerializer{}.Name():
			var st BlocksState
			if err := json.Unmarshal(data, &st); err != nil {
				return nil, fmt.Errorf("parsing blocks: %w", err)
			}
			for _, s := range st.Blocks {
				out.Blocks = append(out.Blocks, blockToXML(s, reg))
			}
		case CommentsSerializer{}.Name():
			var comments []model.CommentState
			if err := json.Unmarshal(data, &comments); err != nil {
				return nil, fmt.Errorf("parsing workspace comments: %w", err)
			}
			for _, c := range comments {
				out.Comments = append(out.Comments, xmlWSComment{ID: c.ID, X: c.X, Y: c.Y, Width: c.Width, Height: c.Height, Text: c.Text})
			}
		default:
			logging.Warn("document member has no xml form", "member", name)
		}
	}
	data, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding xml: %w", err)
	}
	return data, nil
}

func blockToXML(s *model.BlockState, reg *model.Registry) *xmlBlock {
	if s == nil {
		return nil
	}
	x := &xmlBlock{
		Type:      s.Type,
		ID:        s.ID,
		X:         s.X,
		Y:         s.Y,
		Collapsed: s.Collapsed,
		Disabled:  s.Disabled,
		Deletable: s.Deletable,
		Movable:   s.Movable,
		Editable:  s.Editable,
		Inline:    s.Inline,
		Data:      s.Data,
	}
	if s.Comment != "" {
		x.Comment = &xmlComment{Text: s.Comment}
	}

	for _, name := range sortedKeys(s.Fields) {
		x.Fields = append(x.Fields, fieldToXML(name, s.Fields[name]))
	}
	for _, name := range sortedKeys(s.Inputs) {
		cs := s.Inputs[name]
		in := xmlInput{Name: name, Shadow: blockToXML(cs.Shadow, reg), Block: blockToXML(cs.Block, reg)}
		if kind, _ := reg.InputKindOf(s.Type, name); kind == model.InputStatement {
			x.Statements = append(x.Statements, in)
		} else {
			x.Values = append(x.Values, in)
		}
	}
	if s.Next != nil {
		x.Next = &xmlInput{Shadow: blockToXML(s.Next.Shadow, reg), Block: blockToXML(s.Next.Block, reg)}
	}
	return x
}

func fieldToXML(name string, v any) xmlField {
	f := xmlField{Name: name}
	switch t := v.(type) {
	case map[string]any:
		f.ID, _ = t["id"].(string)
		f.VariableType, _ = t["type"].(string)
		f.Value, _ = t["name"].(string)
	case float64:
		f.Value = strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		f.Value = t
	default:
		f.Value = fmt.Sprint(t)
	}
	return f
}

// DocumentFromXML converts an XML document to its JSON form. reg tells
// variable fields from plain ones.
func DocumentFromXML(data []byte, reg *model.Registry) (Document, error) {
	var in xmlDocument
	if err := xml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parsing xml: %w", err)
	}
	if in.XMLName.Local != "xml" {
		return nil, fmt.Errorf("parsing xml: root element is <%s>, want <xml>", in.XMLName.Local)
	}

	doc := make(Document)
	put := func(name string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}
		doc[name] = raw
		return nil
	}

	if in.Variables != nil && len(in.Variables.Variables) > 0 {
		vars := make([]VariableState, 0, len(in.Variables.Variables))
		for _, v := range in.Variables.Variables {
			vars = append(vars, VariableState{Name: v.Name, ID: v.ID, Type: v.Type})
		}
		if err := put(VariablesSerializer{}.Name(), vars); err != nil {
			return nil, err
		}
	}
	if len(in.Blocks) > 0 {
		st := BlocksState{}
		for _, b := range in.Blocks {
			st.Blocks = append(st.Blocks, blockFromXML(b, reg))
		}
		if err := put(BlocksSerializer{}.Name(), st); err != nil {
			return nil, err
		}
	}
	if len(in.Comments) > 0 {
		comments := make([]model.CommentState, 0, len(in.Comments))
		for _, c := range in.Comments {
			comments = append(comments, model.CommentState{ID: c.ID, Text: c.Text, X: c.X, Y: c.Y, Width: c.Width, Height: c.Height})
		}
		if err := put(CommentsSerializer{}.Name(), comments); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func blockFromXML(x *xmlBlock, reg *model.Registry) *model.BlockState {
	if x == nil {
		return nil
	}
	s := &model.BlockState{
		Type:      x.Type,
		ID:        x.ID,
		X:         x.X,
		Y:         x.Y,
		Collapsed: x.Collapsed,
		Disabled:  x.Disabled,
		Deletable: x.Deletable,
		Movable:   x.Movable,
		Editable:  x.Editable,
		Inline:    x.Inline,
		Data:      x.Data,
	}
	if x.Comment != nil {
		s.Comment = x.Comment.Text
	}
	for _, f := range x.Fields {
		if s.Fields == nil {
			s.Fields = make(map[string]any)
		}
		if isVariableField(reg, x.Type, f.Name) {
			v := map[string]any{"name": f.Value}
			if f.ID != "" {
				v["id"] = f.ID
			}
			if f.VariableType != "" {
				v["type"] = f.VariableType
			}
			s.Fields[f.Name] = v
			continue
		}
		s.Fields[f.Name] = f.Value
	}
	for _, in := range append(append([]xmlInput(nil), x.Values...), x.Statements...) {
		if s.Inputs == nil {
			s.Inputs = make(map[string]*model.ConnectionState)
		}
		s.Inputs[in.Name] = &model.ConnectionState{Shadow: blockFromXML(in.Shadow, reg), Block: blockFromXML(in.Block, reg)}
	}
	if x.Next != nil {
		s.Next = &model.ConnectionState{Shadow: blockFromXML(x.Next.Shadow, reg), Block: blockFromXML(x.Next.Block, reg)}
	}
	return s
}

func isVariableField(reg *model.Registry, typ, name string) bool {
	def, ok := reg.Lookup(typ)
	if !ok {
		return false
	}
	for _, in := range def.Inputs {
		for _, f := range in.Fields {
			if f.Name == name {
				return f.Kind == model.FieldVariable
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
