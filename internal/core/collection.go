package core

import (
	"github.com/juju/errors"
)

// Collection is an insertion-ordered set of catalog objects keyed by name.
// Every child list in the catalog image is a Collection, so name uniqueness
// within a parent is enforced in one place.
type Collection[T any] struct {
	order []string
	items map[string]T
}

func (c *Collection[T]) add(kind, name string, v T) error {
	if c.items == nil {
		c.items = make(map[string]T)
	}
	if _, ok := c.items[name]; ok {
		return errors.AlreadyExistsf("%s %q", kind, name)
	}
	c.items[name] = v
	c.order = append(c.order, name)
	return nil
}

// Get returns the object registered under name.
func (c *Collection[T]) Get(name string) (T, bool) {
	v, ok := c.items[name]
	return v, ok
}

// Has reports whether name is registered.
func (c *Collection[T]) Has(name string) bool {
	_, ok := c.items[name]
	return ok
}

// Len returns the number of registered objects.
func (c *Collection[T]) Len() int { return len(c.order) }

// Values returns the objects in insertion order.
func (c *Collection[T]) Values() []T {
	out := make([]T, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.items[name])
	}
	return out
}

// Names returns the registered names in insertion order.
func (c *Collection[T]) Names() []string {
	return append([]string(nil), c.order...)
}

func (c *Collection[T]) remove(name string) {
	if _, ok := c.items[name]; !ok {
		return
	}
	delete(c.items, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Collection[T]) rename(kind, from, to string) error {
	v, ok := c.items[from]
	if !ok {
		return errors.NotFoundf("%s %q", kind, from)
	}
	if from == to {
		return nil
	}
	if _, ok := c.items[to]; ok {
		return errors.AlreadyExistsf("%s %q", kind, to)
	}
	delete(c.items, from)
	c.items[to] = v
	for i, n := range c.order {
		if n == from {
			c.order[i] = to
			break
		}
	}
	return nil
}
