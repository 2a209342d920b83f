// Package controller reconciles RSecret resources into Secrets.
//
// The action taken for a resource is recomputed from its metadata on every
// call, so a crashed or restarted operator picks up where it left off.
package controller

import (
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// Action is what one reconciliation does to an RSecret
type Action int

const (
	// ActionCreate guards the resource and writes its Secret
	ActionCreate Action = iota
	// ActionUpdate refreshes an existing Secret
	ActionUpdate
	// ActionDelete removes the Secret and releases the guard
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Classify picks the action from the two fields that drive it. A deletion
// timestamp always means Delete, even when no finalizer is left.
func Classify(beingDeleted, hasFinalizers bool) Action {
	switch {
	case beingDeleted:
		return ActionDelete
	case !hasFinalizers:
		return ActionCreate
	default:
		return ActionUpdate
	}
}

// ActionFor classifies rs
func ActionFor(rs *v1beta1.RSecret) Action {
	return Classify(!rs.DeletionTimestamp.IsZero(), len(rs.Finalizers) > 0)
}
