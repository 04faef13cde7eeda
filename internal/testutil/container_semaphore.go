// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"
)

// ContainerParallelEnv overrides the number of concurrent container engine
// operations allowed across a test binary.
const ContainerParallelEnv = "ENVPROV_TEST_CONTAINER_PARALLEL"

// ContainerSemaphore is shared by every test in the process. Image builds are
// heavy enough that unbounded parallel subtests exhaust small CI runners.
var ContainerSemaphore = sync.OnceValue(func() chan struct{} {
	return make(chan struct{}, containerParallelism())
})

// AcquireContainer takes a semaphore slot and releases it when t ends.
func AcquireContainer(t testing.TB) {
	t.Helper()
	sem := ContainerSemaphore()
	select {
	case sem <- struct{}{}:
	case <-t.Context().Done():
		t.Fatal("context done while waiting for a container slot")
	}
	t.Cleanup(func() { <-sem })
}

// containerParallelism reads ContainerParallelEnv, falling back to
// min(GOMAXPROCS, 2).
func containerParallelism() int {
	if v := os.Getenv(ContainerParallelEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return min(runtime.GOMAXPROCS(0), 2)
}
