// Package resolver turns a requested toggle set into a dependency
// complete, conflict free Plan.
//
// Resolution is pure: the same manifest and toggle set always produce
// the same plan in the same order. Conflicts are never settled by
// dropping a side; the caller has to change the request and resolve
// again.
package resolver
