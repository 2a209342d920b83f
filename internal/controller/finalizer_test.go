package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

func TestFinalizerGuardAndRelease(t *testing.T) {
	t.Parallel()

	rs := &v1beta1.RSecret{ObjectMeta: metav1.ObjectMeta{
		Name:       "app",
		Namespace:  "team",
		Finalizers: []string{"other.io/keep"},
	}}
	c := fake.NewClientBuilder().WithScheme(NewScheme()).WithObjects(rs).Build()
	f := NewFinalizerManager(c)
	ctx := context.Background()
	key := types.NamespacedName{Namespace: "team", Name: "app"}

	cur := &v1beta1.RSecret{}
	require.NoError(t, c.Get(ctx, key, cur))

	patched, err := f.Guard(ctx, cur)
	require.NoError(t, err)
	assert.True(t, patched)

	patched, err = f.Guard(ctx, cur)
	require.NoError(t, err)
	assert.False(t, patched, "guard is idempotent")

	stored := &v1beta1.RSecret{}
	require.NoError(t, c.Get(ctx, key, stored))
	assert.ElementsMatch(t, []string{"other.io/keep", v1beta1.FinalizerName}, stored.Finalizers)

	patched, err = f.Release(ctx, stored)
	require.NoError(t, err)
	assert.True(t, patched)

	patched, err = f.Release(ctx, stored)
	require.NoError(t, err)
	assert.False(t, patched, "release is idempotent")

	require.NoError(t, c.Get(ctx, key, stored))
	assert.Equal(t, []string{"other.io/keep"}, stored.Finalizers)
}

func TestFinalizerGuardConflict(t *testing.T) {
	t.Parallel()

	rs := &v1beta1.RSecret{ObjectMeta: metav1.ObjectMeta{Name: "app", Namespace: "team"}}
	c := fake.NewClientBuilder().WithScheme(NewScheme()).WithObjects(rs).Build()
	ctx := context.Background()

	stale := &v1beta1.RSecret{}
	require.NoError(t, c.Get(ctx, types.NamespacedName{Namespace: "team", Name: "app"}, stale))

	fresh := stale.DeepCopy()
	fresh.Spec.Description = "changed elsewhere"
	require.NoError(t, c.Update(ctx, fresh))

	_, err := NewFinalizerManager(c).Guard(ctx, stale)
	assert.Error(t, err, "optimistic lock rejects a stale object")
}
