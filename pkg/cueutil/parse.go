// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultMaxFileSize bounds the CUE input accepted by Unify (5MB).
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

type (
	options struct {
		maxFileSize int64
		partial     bool
		filename    string
	}

	// Option configures Unify and Decode.
	Option func(*options)
)

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(size int64) Option {
	return func(o *options) { o.maxFileSize = size }
}

// WithPartial accepts documents that leave schema fields unset. Config
// files use it; recipes must be complete.
func WithPartial() Option {
	return func(o *options) { o.partial = true }
}

// WithFilename names the input in error messages.
func WithFilename(name string) Option {
	return func(o *options) { o.filename = name }
}

// Unify compiles data, unifies it with the definition at path in schema and
// validates the result. Errors name the file and the CUE path at fault.
func Unify(schema, data []byte, path string, opts ...Option) (cue.Value, error) {
	o := options{maxFileSize: DefaultMaxFileSize, filename: "<input>"}
	for _, opt := range opts {
		opt(&o)
	}

	if err := CheckFileSize(data, o.maxFileSize, o.filename); err != nil {
		return cue.Value{}, err
	}

	ctx := cuecontext.New()
	def := ctx.CompileBytes(schema).LookupPath(cue.ParsePath(path))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s: %w", path, err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(o.filename))
	if err := doc.Err(); err != nil {
		return cue.Value{}, FormatError(err, o.filename)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(!o.partial)); err != nil {
		return cue.Value{}, FormatError(err, o.filename)
	}
	return unified, nil
}

// Decode unifies data with the schema definition at path and decodes the
// result into a T.
func Decode[T any](schema, data []byte, path string, opts ...Option) (*T, error) {
	unified, err := Unify(schema, data, path, opts...)
	if err != nil {
		return nil, err
	}

	var out T
	if err := unified.Decode(&out); err != nil {
		o := options{filename: "<input>"}
		for _, opt := range opts {
			opt(&o)
		}
		return nil, FormatError(err, o.filename)
	}
	return &out, nil
}
