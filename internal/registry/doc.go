// Package registry implements agent registration, API key rotation, and
// agent lifecycle management on top of the store.
package registry
