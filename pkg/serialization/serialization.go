// Package serialization saves and loads whole workspaces.
//
// A document is a JSON object with one member per registered serializer.
// Serializers load in descending priority so that, for example, variables
// exist before the blocks that reference them.
package serialization

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

// Priorities of the built-in serializers.
const (
	PriorityVariables = 100
	PriorityBlocks    = 50
	PriorityComments  = 25
)

var (
	ErrDuplicateSerializer = errors.New("serializer already registered")
	ErrUnknownMember       = errors.New("no serializer for document member")
)

// Document is a serialized workspace keyed by serializer name.
type Document map[string]json.RawMessage

// LoadOptions tunes Load.
type LoadOptions struct {
	// RecordUndo makes the load undoable. By default it is not.
	RecordUndo bool
	// FreshIDs mints new block and comment ids instead of keeping the
	// saved ones.
	FreshIDs bool
	// IgnoreUnknown skips document members no serializer claims instead
	// of failing.
	IgnoreUnknown bool
}

// Serializer saves and loads one part of a workspace.
type Serializer interface {
	Name() string
	Priority() int
	// Save returns the member value, or nil when there is nothing to save.
	Save(ws *model.Workspace) (any, error)
	// Load adds the member's content to ws. It returns the ids of any
	// top-level blocks it created.
	Load(data json.RawMessage, ws *model.Workspace, opts LoadOptions) ([]string, error)
	// Clear removes everything this serializer owns from ws.
	Clear(ws *model.Workspace)
}

// Registry is a set of serializers.
type Registry struct {
	byName map[string]Serializer
}

// NewRegistry returns a registry holding the given serializers.
func NewRegistry(ss ...Serializer) (*Registry, error) {
	r := &Registry{byName: make(map[string]Serializer)}
	for _, s := range ss {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the variables, blocks and
// workspace comments serializers.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(VariablesSerializer{}, BlocksSerializer{}, CommentsSerializer{})
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds s. Names must be unique.
func (r *Registry) Register(s Serializer) error {
	if _, ok := r.byName[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSerializer, s.Name())
	}
	r.byName[s.Name()] = s
	return nil
}

// Unregister removes the serializer called name.
func (r *Registry) Unregister(name string) {
	delete(r.byName, name)
}

// ordered returns the serializers by descending priority, ties by name.
func (r *Registry) ordered() []Serializer {
	out := make([]Serializer, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Save serializes ws with the default serializers.
func Save(ws *model.Workspace) (Document, error) {
	return DefaultRegistry().Save(ws)
}

// Load replaces the content of ws with doc using the default serializers.
func Load(doc Document, ws *model.Workspace, opts LoadOptions) ([]string, error) {
	return DefaultRegistry().Load(doc, ws, opts)
}

// Save serializes ws.
func (r *Registry) Save(ws *model.Workspace) (Document, error) {
	doc := make(Document)
	for _, s := range r.ordered() {
		v, err := s.Save(ws)
		if err != nil {
			return nil, fmt.Errorf("saving %s: %w", s.Name(), err)
		}
		if v == nil {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", s.Name(), err)
		}
		doc[s.Name()] = data
	}
	return doc, nil
}

// Load replaces the content of ws with doc and returns the ids of the
// loaded top-level blocks. The document is first loaded into a scratch
// workspace; if that fails ws is left untouched.
func (r *Registry) Load(doc Document, ws *model.Workspace, opts LoadOptions) ([]string, error) {
	if ws.IsDisposed() {
		return nil, model.ErrWorkspaceDisposed
	}
	if err := r.validate(doc, ws, opts); err != nil {
		return nil, err
	}

	oldRecord := ws.SetRecordUndo(opts.RecordUndo)
	defer ws.SetRecordUndo(oldRecord)
	ownsGroup := ws.Group() == ""
	if ownsGroup {
		ws.NewGroup()
		defer ws.SetGroup("")
	}

	ordered := r.ordered()
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i].Clear(ws)
	}
	ids, err := r.loadInto(doc, ws, opts, ordered)
	if err != nil {
		// The scratch load succeeded, so this is a bug in a serializer.
		logging.Error("document validated but failed to load", "workspace", ws.ID(), "error", err)
		return nil, err
	}
	ws.Fire(model.NewFinishedLoading(ws))
	logging.Debug("document loaded", "workspace", ws.ID(), "blocks", len(ids))
	return ids, nil
}

func (r *Registry) validate(doc Document, ws *model.Workspace, opts LoadOptions) error {
	scratch := model.NewWorkspace(ws.Registry(), model.WithOptions(ws.Options()), model.WithChecker(ws.Checker()))
	scratch.DisableEvents()
	defer scratch.Dispose()
	_, err := r.loadInto(doc, scratch, opts, r.ordered())
	return err
}

func (r *Registry) loadInto(doc Document, ws *model.Workspace, opts LoadOptions, ordered []Serializer) ([]string, error) {
	if !opts.IgnoreUnknown {
		for name := range doc {
			if _, ok := r.byName[name]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownMember, name)
			}
		}
	}
	var ids []string
	for _, s := range ordered {
		data, ok := doc[s.Name()]
		if !ok {
			continue
		}
		loaded, err := s.Load(data, ws, opts)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", s.Name(), err)
		}
		ids = append(ids, loaded...)
	}
	return ids, nil
}

// Marshal encodes a document as indented JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Unmarshal parses a JSON document.
func Unmarshal(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return doc, nil
}
