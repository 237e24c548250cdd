package model

// Input is a row of a block: an optional connection and the fields shown
// beside it.
type Input struct {
	name    string
	kind    InputKind
	owner   *Block
	conn    *Connection
	fields  []*Field
	visible bool
	def     *InputDef
}

func newInput(b *Block, def *InputDef) *Input {
	in := &Input{
		name:    def.Name,
		kind:    def.Kind,
		owner:   b,
		visible: true,
		def:     def,
	}
	if ck, ok := def.Kind.connectionKind(); ok {
		in.conn = newConnection(b, ck, def.Check, def.Offset)
		in.conn.input = in
	}
	for _, fd := range def.Fields {
		in.fields = append(in.fields, newField(in, fd))
	}
	return in
}

func (in *Input) Name() string            { return in.name }
func (in *Input) Kind() InputKind         { return in.kind }
func (in *Input) Block() *Block           { return in.owner }
func (in *Input) Connection() *Connection { return in.conn }
func (in *Input) Fields() []*Field        { return append([]*Field(nil), in.fields...) }
func (in *Input) Visible() bool           { return in.visible }

// SetVisible hides or shows the input. Connections below a hidden input
// leave the index.
func (in *Input) SetVisible(visible bool) {
	if in.visible == visible {
		return
	}
	in.owner.ws.reindex(in.owner, func() { in.visible = visible })
}
