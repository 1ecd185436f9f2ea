// Package artifact implements the per-turn Artifact Channel: typed, staged
// payloads that tools create, update and complete while a turn runs, fanned
// out to subscribers as ordered events.
//
// Each artifact type is declared by a Definition (ordered stages plus a merge
// rule). Updates to one artifact are published in the order they were issued;
// nothing is guaranteed across artifacts. Subscribers get a bounded queue and
// a full queue blocks the producer until space frees up or the producer's
// context ends, so events are never dropped.
//
// Terminal snapshots of completed artifacts are written to a Store (see
// InMemoryStore and the artifact/sqlite package) so they can be read back
// after the turn.
package artifact
