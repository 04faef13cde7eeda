// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// shortKeyLen is the number of hex characters used in image tags.
const shortKeyLen = 12

// StepKey is the hex sha256 identity of a step and all steps before it.
type StepKey string

// String returns the full key.
func (k StepKey) String() string { return string(k) }

// Validate returns an error unless the key is 64 lowercase hex characters.
func (k StepKey) Validate() error {
	if len(k) != sha256.Size*2 {
		return fmt.Errorf("invalid step key %q: want %d hex characters", string(k), sha256.Size*2)
	}
	for _, c := range []byte(k) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid step key %q: not lowercase hex", string(k))
		}
	}
	return nil
}

// Short returns the key prefix used in image tags.
func (k StepKey) Short() string {
	if len(k) <= shortKeyLen {
		return string(k)
	}
	return string(k[:shortKeyLen])
}

// DeriveKey returns the key of step s whose predecessor has key parent.
// The first step has an empty parent.
//
// Fields are length-prefixed so that no two distinct (parent, kind, content)
// triples hash the same input.
func DeriveKey(parent StepKey, s Step) StepKey {
	h := sha256.New()
	writeField(h, string(parent))
	writeField(h, string(s.Kind()))
	writeField(h, s.Canonical())
	return StepKey(hex.EncodeToString(h.Sum(nil)))
}

// Keys returns the chained key of every step, in order.
func Keys(steps []Step) []StepKey {
	keys := make([]StepKey, len(steps))
	var parent StepKey
	for i, s := range steps {
		parent = DeriveKey(parent, s)
		keys[i] = parent
	}
	return keys
}

// Key returns the key of the recipe's last step, which identifies the artifact.
func (r *Recipe) Key() StepKey {
	keys := Keys(r.Steps())
	return keys[len(keys)-1]
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
