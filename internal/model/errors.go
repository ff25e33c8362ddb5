package model

import "errors"

// Sentinel errors reported by the simulated filesystem. They describe why
// an operation is invalid at the model level, not what a real target would
// return.
var (
	ErrNotFound         = errors.New("path does not exist")
	ErrExists           = errors.New("path already exists")
	ErrNotDir           = errors.New("path is not a directory")
	ErrNotFile          = errors.New("path is not a regular file")
	ErrDirNotEmpty      = errors.New("directory is not empty")
	ErrBadPath          = errors.New("malformed path")
	ErrBadDescriptor    = errors.New("unknown descriptor")
	ErrDescriptorClosed = errors.New("descriptor already closed")
	ErrFileOpen         = errors.New("file already open")
	ErrRootImmutable    = errors.New("root cannot be removed or renamed")
	ErrRenameIntoSelf   = errors.New("cannot rename a directory into itself")
)
