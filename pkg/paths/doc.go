// Package paths provides centralized path handling for modkit.
// It implements XDG Base Directory specification compliance for the
// cache, state, config and data directories, and the validation used
// before any installation name or manifest-supplied path touches disk.
package paths
