package revocation_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pierregrothe/graphrag-api-sub000/internal/revocation"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_AddAndCheck(t *testing.T) {
	r := revocation.NewRegistry(time.Minute)
	defer r.Close()

	r.Add("jti-1", time.Now().Add(time.Hour))

	assert.True(t, r.IsRevoked("jti-1"))
	assert.False(t, r.IsRevoked("jti-2"))
}

func TestRegistry_ExpiredEntryNotRevoked(t *testing.T) {
	r := revocation.NewRegistry(time.Minute)
	defer r.Close()

	r.Add("jti-1", time.Now().Add(-time.Second))

	// Past natural expiry the jti no longer needs blocking.
	assert.False(t, r.IsRevoked("jti-1"))
}

func TestRegistry_SweepPrunesExpired(t *testing.T) {
	r := revocation.NewRegistry(20 * time.Millisecond)
	defer r.Close()

	r.Add("expired", time.Now().Add(10*time.Millisecond))
	r.Add("live", time.Now().Add(time.Hour))

	assert.Eventually(t, func() bool {
		return r.Len() == 1
	}, time.Second, 10*time.Millisecond, "expired entry should be pruned")

	assert.True(t, r.IsRevoked("live"))
}

func TestRegistry_EmptyJTIIgnored(t *testing.T) {
	r := revocation.NewRegistry(time.Minute)
	defer r.Close()

	r.Add("", time.Now().Add(time.Hour))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.IsRevoked(""))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := revocation.NewRegistry(time.Minute)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			r.Add(fmt.Sprintf("jti-%d", n), time.Now().Add(time.Hour))
		}(i)
		go func(n int) {
			defer wg.Done()
			r.IsRevoked(fmt.Sprintf("jti-%d", n))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
}
