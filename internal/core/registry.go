package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]Dataset)
	registryMu sync.RWMutex
)

// Register adds a dataset to the registry.
// Panics if a dataset with the same key is already registered or if the
// dataset has no key column.
func Register(ds Dataset) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[ds.Info.Key]; exists {
		panic(fmt.Sprintf("dataset already registered: %s", ds.Info.Key))
	}
	if ds.Info.KeyColumn == "" {
		panic(fmt.Sprintf("dataset %s has no key column", ds.Info.Key))
	}

	// Populate Columns from FieldSpecs if not set
	if len(ds.Info.Columns) == 0 && len(ds.FieldSpecs) > 0 {
		ds.Info.Columns = make([]string, len(ds.FieldSpecs))
		for i, spec := range ds.FieldSpecs {
			ds.Info.Columns[i] = spec.Name
		}
	}
	ds.Info.ReferenceRequired = ds.ReferenceField != ""

	registry[ds.Info.Key] = ds
}

// Get returns a dataset by key.
func Get(key string) (Dataset, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ds, ok := registry[key]
	return ds, ok
}

// All returns all registered datasets sorted by key.
func All() []Dataset {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Dataset, 0, len(registry))
	for _, ds := range registry {
		result = append(result, ds)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})
	return result
}

// Clear removes all registered datasets.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Dataset)
}
