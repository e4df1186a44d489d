// Package storage persists the committed notification collection and the
// sound preference across restarts.
//
// Both values are written as full snapshots after every mutation; the
// collection is capped, so snapshots stay small. A missing or unreadable
// snapshot loads as an empty collection.
package storage
