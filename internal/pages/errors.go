package pages

import "errors"

var (
	// ErrBadRequest indicates an alignment or size that is not a power of two, or size < alignment.
	ErrBadRequest = errors.New("pages: alignment and size must be powers of two with size >= alignment")

	// ErrUnsupported indicates the provider cannot serve this request shape.
	ErrUnsupported = errors.New("pages: request not supported by provider")

	// ErrExhausted indicates the provider has no memory left to hand out.
	ErrExhausted = errors.New("pages: out of memory")

	// ErrUnknownBlock indicates a release of a block the provider never handed out.
	ErrUnknownBlock = errors.New("pages: unknown block")

	// ErrUnknownSource indicates an unrecognized provider name.
	ErrUnknownSource = errors.New("pages: unknown page source")
)
