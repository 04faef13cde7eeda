// SPDX-License-Identifier: MPL-2.0

// Package testutil holds test helpers shared across packages: a manually
// advanced clock and a limit on concurrent container engine work.
package testutil
