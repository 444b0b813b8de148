// Package manifest parses and validates modpack manifests and preset
// documents.
//
// A Manifest is immutable once Load returns. Load either returns a fully
// validated manifest or a MANIFEST_INVALID error naming the field and the
// component at fault; callers never see a partially valid manifest.
//
// Components live in an arena indexed by declaration order. The
// dependency and incompatibility relations are kept as adjacency lists
// over those indexes (see Graph), which keeps cycle detection and
// closure computation simple traversals.
package manifest
