package archive

import (
	"errors"

	"github.com/BadgerOps/misopack/internal/walk"
)

// Error kinds returned by compress and restore. Callers test them with errors.Is.
var (
	ErrNotADirectory       = errors.New("not a directory")
	ErrAlreadyExists       = errors.New("destination already exists")
	ErrSameLocation        = errors.New("input and output are the same location")
	ErrNotFound            = errors.New("archive not found")
	ErrWriteFailure        = errors.New("write failure")
	ErrReadFailure         = errors.New("read failure")
	ErrUnreadableDirectory = walk.ErrUnreadableDirectory
)
