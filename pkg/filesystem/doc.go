// Package filesystem holds the afero helpers shared by the cache, the
// installer and the state store: atomic writes, streamed copies and
// empty-directory pruning.
//
// Production code uses NewOS, tests use NewMemory. Everything that
// touches disk takes an afero.Fs so the two are interchangeable.
package filesystem
