// Package store declares the fetch run history repository. Implementations
// live elsewhere; this package must not import database drivers.
package store
