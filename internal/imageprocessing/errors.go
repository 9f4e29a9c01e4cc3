package imageprocessing

import "errors"

// Each pipeline failure wraps exactly one of these stage errors.
var (
	ErrRead     = errors.New("failed to read image")
	ErrIterator = errors.New("failed to create pixel iterator")
	ErrConvert  = errors.New("failed to convert")
	ErrWrite    = errors.New("failed to save image")
)

var (
	ErrSessionClosed     = errors.New("image session is closed")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)
