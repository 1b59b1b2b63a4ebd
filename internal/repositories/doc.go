// Package repositories implements SQLite persistence for the local run log.
//
// Every CLI run against a remote deployment is recorded locally: the run
// itself (when it started, which server it hit, how it ended) and the
// recordings it uploaded. The log is what the query and browse commands read
// to cross-check local knowledge against server state.
//
// Key Implementations:
//   - [RunRepository] : one row per invocation, with outcome tracking
//   - [UploadRepository] : recordings uploaded during a run, props included
package repositories
