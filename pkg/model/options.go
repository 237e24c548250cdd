package model

// Options holds the tunable constants of a workspace.
type Options struct {
	// SnapRadius is the search radius of a drag before any preview is shown.
	SnapRadius float64
	// ConnectingSnapRadius is the search radius while a preview is shown.
	// It also bounds neighbour bumping.
	ConnectingSnapRadius float64
	// CurrentConnectionPreference is subtracted from the distance of the
	// connection currently previewed, so a new candidate must beat it by
	// more than this to take over.
	CurrentConnectionPreference float64
	// BumpDelta is how far a disconnected neighbour is pushed away.
	BumpDelta float64
	// MaxUndo bounds the undo stack. Zero or less means unbounded.
	MaxUndo int
}

// DefaultOptions returns the stock editor constants.
func DefaultOptions() Options {
	return Options{
		SnapRadius:                  48,
		ConnectingSnapRadius:        28,
		CurrentConnectionPreference: 8,
		BumpDelta:                   25,
		MaxUndo:                     1024,
	}
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithOptions replaces the workspace constants.
func WithOptions(o Options) Option {
	return func(ws *Workspace) { ws.opts = o }
}

// WithChecker installs a custom connection checker.
func WithChecker(c ConnectionChecker) Option {
	return func(ws *Workspace) { ws.checker = c }
}

// WithID fixes the workspace id instead of generating one.
func WithID(id string) Option {
	return func(ws *Workspace) { ws.id = id }
}
