// Package binder populates request structs from JSON bodies and router path
// parameters. Binders are plain functions so they compose in handler.Wrap.
package binder
