// Package store provides interfaces and implementations for the resource
// namespace that locks are placed on.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	// ErrExists is returned when creating a path that already names an object.
	ErrExists = errors.New("object already exists")

	// ErrParentNotFound is returned when the parent of a new object is missing
	// or is not a folder.
	ErrParentNotFound = errors.New("parent folder not found")

	// ErrNotFound is returned when an object to update does not exist.
	ErrNotFound = errors.New("object not found")
)

// Object is a folder or resource in the store.
type Object struct {
	Path   string
	Folder bool
	// NullResource marks a placeholder created only to hold a lock.
	NullResource bool
	CreatedAt    time.Time
}

// IsFolder reports whether the object is a folder.
func (o *Object) IsFolder() bool {
	return o != nil && o.Folder
}

// IsResource reports whether the object is a plain resource.
func (o *Object) IsResource() bool {
	return o != nil && !o.Folder
}

// ResourceStore defines the interface for resource persistence operations.
type ResourceStore interface {
	// GetObject retrieves the object at path. Returns nil, nil if absent.
	GetObject(ctx context.Context, path string) (*Object, error)

	// CreateFolder creates a folder at path. The parent must be a folder.
	CreateFolder(ctx context.Context, path string) (*Object, error)

	// CreateResource creates an empty resource at path. The parent must be a folder.
	CreateResource(ctx context.Context, path string) (*Object, error)

	// SetNullResource sets or clears the null-resource flag of the object at path.
	SetNullResource(ctx context.Context, path string, null bool) error

	// DeleteObject removes the object at path. Deleting a missing path is a no-op.
	DeleteObject(ctx context.Context, path string) error
}
