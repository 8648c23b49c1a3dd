package health

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(name string) Checker {
	return func(_ context.Context) Status {
		return Status{Name: name, Healthy: true}
	}
}

func TestCheckAll_EmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestCheckAll_OneFailingDependency(t *testing.T) {
	r := NewRegistry()
	r.Register("database", ok("database"))
	r.Register("redis", func(_ context.Context) Status {
		return Status{Name: "redis", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "redis", statuses[1].Name)
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestCheckAll_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("database", ok("database"))
	r.Register("redis", ok("redis"))

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "redis", statuses[1].Name)
}

func TestRegistry_ConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("database", ok("database"))
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
