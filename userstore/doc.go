// Package userstore provides credcore.UserProvider implementations.
//
// MongoStore keeps one document per account in a collection with a unique
// index on the normalized identifier. MemoryStore has the same semantics and
// backs tests and single-process deployments.
//
// Deletion is soft: a deleted account keeps its document so the identifier
// cannot be re-registered by someone else.
package userstore
