package model

import (
	"github.com/juju/collections/set"
)

// FindLoop walks edges depth-first from origin and returns the first path
// that leads back to it, origin first and last, or nil when there is none.
// Nodes are table labels; an edge follows an identity member link to the
// table it targets.
func FindLoop(origin string, edges func(string) []string) []string {
	visited := set.NewStrings()
	var walk func(node string, path []string) []string
	walk = func(node string, path []string) []string {
		for _, next := range edges(node) {
			if next == origin {
				return append(append([]string(nil), path...), next)
			}
			if visited.Contains(next) {
				continue
			}
			visited.Add(next)
			if found := walk(next, append(path, next)); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(origin, []string{origin})
}
