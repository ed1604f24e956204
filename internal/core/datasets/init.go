// Package datasets registers the importable datasets with the core registry.
// Import this package for its side effects.
package datasets
