// Package core holds the dispatch domain types, the store and queue
// contracts, configuration and the error taxonomy. Adapters depend on core;
// core depends on no adapter.
package core
