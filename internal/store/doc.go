// Package store defines the run history contract shared by the storage
// backends, the progress store sink, and the status API. Implementations live
// in internal/storage; this package must not import database drivers.
package store
