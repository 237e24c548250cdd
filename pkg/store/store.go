// Package store persists serialized workspace documents by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidName = errors.New("invalid document name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Info describes a stored document
type Info struct {
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store keeps serialized documents keyed by name. Saving an existing name
// replaces it.
type Store interface {
	Save(ctx context.Context, name string, doc []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, name string) error
	Close()
}

// ValidateName rejects names that cannot double as file names.
func ValidateName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Open builds a store from a location string: "file:<dir>" or a bare
// directory path for a FileStore, "postgres://..." or "postgresql://..."
// for a PostgresStore.
func Open(ctx context.Context, location string) (Store, error) {
	switch {
	case location == "":
		return nil, errors.New("store: no location given")
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		s, err := OpenPostgres(ctx, location)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := NewFileStore(strings.TrimPrefix(location, "file:"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
