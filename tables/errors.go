package tables

import "errors"

// ErrFileNotFound is returned when the input document does not exist.
var ErrFileNotFound = errors.New("tables: input file does not exist")

// ErrUnsupportedFormat is returned when the input is not a PDF.
var ErrUnsupportedFormat = errors.New("tables: unsupported input format")

// ErrInvalidPages is returned when a page number is zero or negative.
var ErrInvalidPages = errors.New("tables: page numbers must be positive")

// ErrUnknownMethod is returned when the requested extraction method is not
// one of the registered strategies.
var ErrUnknownMethod = errors.New("tables: unknown extraction method")
