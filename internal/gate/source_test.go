package gate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_DefaultsWhenNil(t *testing.T) {
	s := NewSource(nil)
	require.NotNil(t, s.Current())
	assert.Equal(t, 1, s.Current().Version)
}

func TestSource_PublishAdvancesVersion(t *testing.T) {
	s := NewSource(nil)

	next := s.Current().Clone()
	next.Version = 2
	require.NoError(t, s.Publish(next))
	assert.Equal(t, 2, s.Current().Version)
}

func TestSource_RejectsStaleVersion(t *testing.T) {
	s := NewSource(nil)

	next := s.Current().Clone()
	next.Version = 3
	require.NoError(t, s.Publish(next))

	stale := s.Current().Clone()
	stale.Version = 2
	assert.Error(t, s.Publish(stale))
	assert.Equal(t, 3, s.Current().Version)

	same := s.Current().Clone()
	assert.Error(t, s.Publish(same))
}

func TestSource_RejectsInvalidRuleSet(t *testing.T) {
	s := NewSource(nil)

	bad := s.Current().Clone()
	bad.Version = 2
	bad.ConfidenceFloor = 7
	assert.Error(t, s.Publish(bad))
	assert.Equal(t, 1, s.Current().Version)
}

func TestSource_ConcurrentReaders(t *testing.T) {
	s := NewSource(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rs := s.Current()
				assert.GreaterOrEqual(t, rs.Version, 1)
			}
		}()
	}

	for v := 2; v <= 20; v++ {
		next := s.Current().Clone()
		next.Version = v
		require.NoError(t, s.Publish(next))
	}
	wg.Wait()
}
