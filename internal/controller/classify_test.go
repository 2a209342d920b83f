package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		beingDeleted  bool
		hasFinalizers bool
		want          Action
	}{
		{"fresh resource", false, false, ActionCreate},
		{"guarded resource", false, true, ActionUpdate},
		{"deleting guarded resource", true, true, ActionDelete},
		{"deleting without finalizer", true, false, ActionDelete},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.beingDeleted, tt.hasFinalizers))
		})
	}
}

func TestActionFor(t *testing.T) {
	t.Parallel()

	now := metav1.NewTime(time.Now())
	assert.Equal(t, ActionCreate, ActionFor(&v1beta1.RSecret{}))
	assert.Equal(t, ActionUpdate, ActionFor(&v1beta1.RSecret{ObjectMeta: metav1.ObjectMeta{
		Finalizers: []string{"other.io/finalizer"},
	}}))
	assert.Equal(t, ActionDelete, ActionFor(&v1beta1.RSecret{ObjectMeta: metav1.ObjectMeta{
		DeletionTimestamp: &now,
		Finalizers:        []string{v1beta1.FinalizerName},
	}}))
}

func TestActionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "create", ActionCreate.String())
	assert.Equal(t, "update", ActionUpdate.String())
	assert.Equal(t, "delete", ActionDelete.String())
	assert.Equal(t, "unknown", Action(9).String())
}
