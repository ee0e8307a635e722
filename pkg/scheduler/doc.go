// Package scheduler is the client for the remote event scheduling service.
//
// Verbs map onto the service like this:
//
//	Add     POST   /{slug}/{key}
//	Get     GET    /{slug}/{key}
//	List    GET    /list?{query}
//	Remove  DELETE /{slug}/{key}
//	Update  PUT    /{slug}/{key}
//
// Every failure is returned as *Error with one of four kinds
// (validation, not_found, remote, transport), so callers branch on Kind and
// Status regardless of where the failure came from.
//
// Remove and Update can take part in a caller-owned transaction. The client
// snapshots the current event, registers an undo with the transaction and
// only then mutates. The transaction owner runs undos newest first on
// rollback (see package txn for one such owner).
package scheduler
