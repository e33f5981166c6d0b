// Package inventory provides the folder-containment oracle the sync engine
// uses to answer "is this object nested under that folder". The inventory
// subsystem proper (rendering, item management) lives elsewhere; only the
// ancestry relation matters here.
package inventory

import (
	"sync"

	"github.com/google/uuid"
)

// maxDepth bounds the ancestor walk so a corrupted parent map cannot loop.
const maxDepth = 64

// Tree is a parent-pointer map over folder and object identifiers.
// Safe for concurrent use.
type Tree struct {
	mu     sync.RWMutex
	parent map[uuid.UUID]uuid.UUID
}

// NewTree returns an empty Tree.
func NewTree() *Tree {
	return &Tree{parent: make(map[uuid.UUID]uuid.UUID)}
}

// SetParent records obj as a direct child of parent. A uuid.Nil parent makes
// obj a root.
func (t *Tree) SetParent(obj, parent uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if parent == uuid.Nil {
		delete(t.parent, obj)
		return
	}
	t.parent[obj] = parent
}

// Remove forgets obj's parent link. Descendants keep their own links.
func (t *Tree) Remove(obj uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.parent, obj)
}

// Contains reports whether obj equals ancestor or sits anywhere below it.
func (t *Tree) Contains(ancestor, obj uuid.UUID) bool {
	if ancestor == uuid.Nil || obj == uuid.Nil {
		return false
	}
	if ancestor == obj {
		return true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := obj
	for i := 0; i < maxDepth; i++ {
		p, ok := t.parent[cur]
		if !ok {
			return false
		}
		if p == ancestor {
			return true
		}
		cur = p
	}
	return false
}
