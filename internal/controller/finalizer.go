package controller

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// FinalizerManager adds and removes the deletion guard on RSecrets
type FinalizerManager struct {
	client    client.Client
	finalizer string
}

// NewFinalizerManager returns a manager for the rsecrets finalizer
func NewFinalizerManager(c client.Client) *FinalizerManager {
	return &FinalizerManager{client: c, finalizer: v1beta1.FinalizerName}
}

// Guard makes sure obj carries the finalizer. It reports whether a patch was sent.
func (f *FinalizerManager) Guard(ctx context.Context, obj client.Object) (bool, error) {
	if controllerutil.ContainsFinalizer(obj, f.finalizer) {
		return false, nil
	}
	base := obj.DeepCopyObject().(client.Object)
	controllerutil.AddFinalizer(obj, f.finalizer)
	if err := f.client.Patch(ctx, obj, client.MergeFromWithOptions(base, client.MergeFromWithOptimisticLock{})); err != nil {
		return false, fmt.Errorf("failed to add finalizer to %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}
	return true, nil
}

// Release removes the finalizer from obj. It reports whether a patch was sent.
// Once released, the API server is free to delete obj.
func (f *FinalizerManager) Release(ctx context.Context, obj client.Object) (bool, error) {
	if !controllerutil.ContainsFinalizer(obj, f.finalizer) {
		return false, nil
	}
	base := obj.DeepCopyObject().(client.Object)
	controllerutil.RemoveFinalizer(obj, f.finalizer)
	if err := f.client.Patch(ctx, obj, client.MergeFromWithOptions(base, client.MergeFromWithOptimisticLock{})); client.IgnoreNotFound(err) != nil {
		return false, fmt.Errorf("failed to remove finalizer from %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}
	return true, nil
}
