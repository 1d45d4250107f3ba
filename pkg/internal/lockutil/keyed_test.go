/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lockutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyed(t *testing.T) {
	var (
		k       Keyed
		wg      sync.WaitGroup
		counter = map[string]int{}
		mu      sync.Mutex
	)

	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)

			go func(key string) {
				defer wg.Done()

				unlock := k.Lock(key)
				defer unlock()

				mu.Lock()
				v := counter[key]
				mu.Unlock()

				mu.Lock()
				counter[key] = v + 1
				mu.Unlock()
			}(key)
		}
	}

	wg.Wait()

	require.Equal(t, 50, counter["a"])
	require.Equal(t, 50, counter["b"])
	require.Equal(t, 0, k.Len())
}
