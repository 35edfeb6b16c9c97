// Package simplemedia provides the asset and collection index for a
// multi-tenant media library, and the contracts of the collaborators it
// depends on (key-value store, blob storage, transcoding job platform).
//
// Index Strategy
//
// Asset and Collection records are authoritative. Every other structure kept
// in the store (creation-order index, tag counters, collection membership
// sets, word search index) is derived from the records and is updated by the
// same call that mutates a record. The store offers no cross-key transactions,
// so each mutation is a fixed sequence of idempotent steps; a failure between
// steps can leave a derived index stale until the next write touches the
// entity, or until Reindex rebuilds it.
package simplemedia
