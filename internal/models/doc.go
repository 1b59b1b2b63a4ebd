// package models defines the domain value objects exchanged with the
// recordings service: recordings, tracks, and tags.
//
// Identifiers are assigned server-side and are the sole equality key for
// [Recording] and [Track]. Instances built locally before a create call have
// a zero id and must not be compared by identity. Children reference their
// owner by id only, never by pointer, so values stay acyclic and printable.
package models
