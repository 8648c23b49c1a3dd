package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Tenant{ID: "tn_1", Name: "Acme", Status: StatusActive})
	store.Put(&Tenant{ID: "tn_2", Name: "Frozen Co", Status: StatusSuspended})
	store.Put(&Tenant{ID: "tn_3", Name: "Gone LLC", Status: StatusCancelled})

	ctx := context.Background()

	got, err := Validate(ctx, store, "tn_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	_, err = Validate(ctx, store, "tn_2")
	assert.ErrorIs(t, err, ErrTenantSuspended)

	// Cancelled tenants may not transact either.
	_, err = Validate(ctx, store, "tn_3")
	assert.ErrorIs(t, err, ErrTenantSuspended)

	_, err = Validate(ctx, store, "tn_ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Tenant{ID: "tn_1", Name: "Acme", Status: StatusActive})

	got, err := store.Get(context.Background(), "tn_1")
	require.NoError(t, err)
	got.Status = StatusSuspended

	again, err := store.Get(context.Background(), "tn_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status, "mutating the result must not touch the store")
}
