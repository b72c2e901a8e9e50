// Package domain contains core business types and interfaces.
//
// This file defines the environment/item taxonomy consumed read-only by the
// analysis queue. The taxonomy is represented as a flat arena of nodes with
// parent-id edges rather than a self-referential object graph, which keeps
// traversal iterative and serialization trivial.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Taxonomy Nodes
// =============================================================================

// Environment is a top-level taxonomy node (e.g. "kitchen"). Items hang off
// environments.
type Environment struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Item is a taxonomy node under an environment (e.g. "door"), optionally
// refined into child items (e.g. "wood door", "glass door"). Each item carries
// the prompt sent to the vision model when a photo depicts it.
type Item struct {
	ID            uuid.UUID
	EnvironmentID uuid.UUID

	// ParentID is set for child items; null for top-level items.
	ParentID uuid.NullUUID

	Name   string
	Prompt string

	CreatedAt time.Time
}

// IsChild returns true if the item refines a parent item.
func (i *Item) IsChild() bool {
	return i.ParentID.Valid
}

// =============================================================================
// Taxonomy Arena
// =============================================================================

// Taxonomy is an in-memory snapshot of the environment/item tree for one
// report's lookups. Child lists are resolved by parent id on demand.
type Taxonomy struct {
	Environments []Environment
	Items        []Item
}

// ItemsIn returns the top-level items of an environment.
func (t *Taxonomy) ItemsIn(environmentID uuid.UUID) []Item {
	var items []Item
	for _, it := range t.Items {
		if it.EnvironmentID == environmentID && !it.IsChild() {
			items = append(items, it)
		}
	}
	return items
}

// ChildrenOf returns the child items of an item, in stored order.
func (t *Taxonomy) ChildrenOf(itemID uuid.UUID) []Item {
	var children []Item
	for _, it := range t.Items {
		if it.ParentID.Valid && it.ParentID.UUID == itemID {
			children = append(children, it)
		}
	}
	return children
}
