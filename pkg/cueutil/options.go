// SPDX-License-Identifier: MPL-2.0

package cueutil

// DefaultMaxFileSize caps the size of user files accepted for parsing (5MB).
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

type (
	parseOptions struct {
		maxFileSize int64
		concrete    bool
		filename    string
	}

	// Option configures parsing behavior.
	Option func(*parseOptions)
)

func defaultOptions() parseOptions {
	return parseOptions{
		maxFileSize: DefaultMaxFileSize,
		concrete:    true,
		filename:    "<input>",
	}
}

// WithMaxFileSize sets the maximum accepted file size.
func WithMaxFileSize(size int64) Option {
	return func(o *parseOptions) { o.maxFileSize = size }
}

// WithConcrete sets whether all values must be concrete after unification.
// Configuration files leave optional fields unset and pass false.
func WithConcrete(concrete bool) Option {
	return func(o *parseOptions) { o.concrete = concrete }
}

// WithFilename sets the filename used in positions and error messages.
func WithFilename(name string) Option {
	return func(o *parseOptions) {
		if name != "" {
			o.filename = name
		}
	}
}
