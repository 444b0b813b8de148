// Package state persists one record per installation: the manifest
// version it was built from, the toggles the user chose and the files
// each component placed.
//
// Records are TOML files under the state directory, one per installation
// name. A write replaces the whole record atomically, so a crash leaves
// either the previous record or the new one. Only the lifecycle manager
// writes records.
package state
