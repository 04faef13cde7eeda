// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and troubleshooting guides.
//
// ActionableError carries the failed operation, the resource involved, and
// suggestions; an optional guide Id links it to a Markdown page rendered with
// glamour when the CLI reports the failure.
package issue
