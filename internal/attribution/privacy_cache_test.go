package attribution

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/flexevent/internal/core/config"
)

func TestPrivacyCache_ComputesOncePerKey(t *testing.T) {
	c := newPrivacyCache(4)
	var calls atomic.Int32
	compute := func() error {
		calls.Add(1)
		return nil
	}

	errs := make(chan error, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.check("k", compute)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), calls.Load())
}

func TestPrivacyCache_RemembersErrors(t *testing.T) {
	c := newPrivacyCache(4)
	tooLeaky := errors.New("too leaky")

	require.ErrorIs(t, c.check("k", func() error { return tooLeaky }), tooLeaky)
	require.ErrorIs(t, c.check("k", func() error { return nil }), tooLeaky)
}

func TestPrivacyCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newPrivacyCache(2)
	ok := func() error { return nil }

	require.NoError(t, c.check("a", ok))
	require.NoError(t, c.check("b", ok))
	require.NoError(t, c.check("a", ok)) // a is now most recent
	require.NoError(t, c.check("c", ok)) // evicts b

	require.Equal(t, 2, c.len())
	_, hit := c.get("b")
	require.False(t, hit)
	_, hit = c.get("a")
	require.True(t, hit)
}

func TestPrivacyKey(t *testing.T) {
	flags := config.NewFlags(true, 14)
	a, b := newSource("src-1"), newSource("src-2")
	require.Equal(t, privacyKey(a, flags), privacyKey(b, flags))

	b.SourceType = "navigation"
	require.NotEqual(t, privacyKey(a, flags), privacyKey(b, flags))
	require.NotEqual(t, privacyKey(a, flags), privacyKey(a, config.NewFlags(true, 7)))

	b = newSource("src-2")
	b.AttributionStatus = `[{"trigger_id":"t"}]`
	require.Equal(t, privacyKey(a, flags), privacyKey(b, flags))
}
