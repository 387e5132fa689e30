package partition

import (
	"sort"

	"golang.org/x/exp/maps"
)

// Layers computes a topological layering of a remote-op relation map: a
// mapping from remote-op name to the names of the remote ops it directly
// depends on. Names with no dependencies may appear with an empty (or nil)
// dependency list.
//
// Every name in relations appears in exactly one layer, every dependency of a
// name in layer k lives in a layer strictly before k, and layer 0 is exactly
// the set of names with no dependencies. Within a layer names are sorted, so
// identical inputs always produce an identical layering, independent of map
// iteration order.
//
// A dependency that never becomes assignable -- because it participates in a
// cycle or names an entry absent from the map -- stops progress and yields a
// *CycleError.
func Layers(relations map[string][]string) ([][]string, error) {
	remaining := make(map[string][]string, len(relations))
	for name, deps := range relations {
		remaining[name] = deps
	}
	assigned := make(map[string]bool, len(relations))

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		for name, deps := range remaining {
			ready := true
			for _, dep := range deps {
				if !assigned[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			stuck := maps.Keys(remaining)
			sort.Strings(stuck)
			return nil, &CycleError{Remaining: stuck}
		}
		sort.Strings(layer)
		for _, name := range layer {
			assigned[name] = true
			delete(remaining, name)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
