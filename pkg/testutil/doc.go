// Package testutil provides utilities for testing modkit components.
//
// Key components:
//   - ManifestBuilder: declarative manifest documents for tests
//   - FakeTransport: in-memory artifact source that counts fetches
//   - FaultFS: afero wrapper that injects rename and write failures
//   - Archive helpers: zip and tar.gz payloads for include components
//
// Usage guidelines:
//   - Prefer afero MemMapFs; only archive extraction needs t.TempDir
//   - All test data should be defined inline, not in external files
//   - Each test should be completely isolated with no shared state
package testutil
