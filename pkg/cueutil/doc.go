// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates CUE documents against embedded schemas.
//
// Recipes decode straight into Go values:
//
//	r, err := cueutil.Decode[Recipe](schema, data, "#Recipe", cueutil.WithFilename("c.cue"))
//
// Config files are partial and feed a map into viper:
//
//	v, err := cueutil.Unify(schema, data, "#Config", cueutil.WithPartial())
//
// Errors carry the file name and the CUE path of the offending field.
package cueutil
