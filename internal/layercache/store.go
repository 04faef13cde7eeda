// SPDX-License-Identifier: MPL-2.0

// Package layercache records which provisioning steps have already produced
// an image, keyed by the chained step key.
//
// Entries are write-once: the first writer for a key wins and later writers
// receive the stored entry. Images are immutable, so an entry never changes
// once written; it is only removed by pruning.
package layercache

import (
	"context"
	"errors"
	"time"

	"github.com/runner-service/envprov/pkg/recipe"
)

// ErrNotFound is returned by Get when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

type (
	// Entry describes the image produced by one provisioning step.
	Entry struct {
		// Key identifies the step and every step before it.
		Key recipe.StepKey `json:"key"`
		// Parent is the key of the preceding step; empty for the base step.
		Parent recipe.StepKey `json:"parent,omitempty"`
		// Kind is the step kind.
		Kind recipe.StepKind `json:"kind"`
		// ImageRef is the intermediate image holding the step result.
		ImageRef string `json:"image_ref"`
		// ImageID is the content ID of ImageRef when it was recorded.
		ImageID string `json:"image_id,omitempty"`
		// Recipe names the recipe that first produced the step.
		Recipe string `json:"recipe,omitempty"`
		// CreatedAt is when the step finished.
		CreatedAt time.Time `json:"created_at"`
		// Duration is how long the step took.
		Duration time.Duration `json:"duration"`
	}

	// Store persists step entries.
	Store interface {
		// Get returns the entry for key, or ErrNotFound.
		Get(ctx context.Context, key recipe.StepKey) (Entry, error)
		// PutIfAbsent stores e unless an entry for e.Key exists. It returns
		// the entry that is stored after the call and whether this call
		// created it.
		PutIfAbsent(ctx context.Context, e Entry) (stored Entry, created bool, err error)
		// Delete removes the entry for key. Deleting a missing key is not an error.
		Delete(ctx context.Context, key recipe.StepKey) error
		// List returns every entry, oldest first.
		List(ctx context.Context) ([]Entry, error)
	}
)

// Validate returns an error if the entry cannot be stored.
func (e Entry) Validate() error {
	var errs []error
	if err := e.Key.Validate(); err != nil {
		errs = append(errs, err)
	}
	if e.Parent != "" {
		if err := e.Parent.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.Kind.Validate(); err != nil {
		errs = append(errs, err)
	}
	if e.ImageRef == "" {
		errs = append(errs, errors.New("image reference is required"))
	}
	return errors.Join(errs...)
}
