// Package lifecycle drives installations through their whole life:
// install, modify, repair, update and uninstall.
//
// Every entry point runs the same pipeline on top of the committed
// record: resolve a plan, fetch what the cache lacks, apply the plan to
// the installation directory, then commit one new record. The record is
// written only after fetch and apply both succeeded for the full plan;
// any failure or cancellation leaves the previous record as it was.
//
// Operations on one installation name are serialized. Different names
// run in parallel and share the artifact cache.
//
// With a backup store configured, updates are preceded by a snapshot
// and Restore rolls an installation back to any snapshot.
package lifecycle
