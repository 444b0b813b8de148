// Package installer places cached artifacts into an installation
// directory and removes what a plan no longer needs.
//
// Single-file components (mods, shader packs, resource packs) are copied
// from their cache blob to the component's target path through a temp
// file and a rename. Include components are archives extracted into a
// staging directory, then copied under their target subpath. Every path
// is checked to stay inside the installation directory.
//
// The installer never touches state records; the placements it returns
// are what the lifecycle manager commits.
package installer
