// Package request persists generation request records: the goal, the
// user-visible state, the first fatal error, the execution log and the
// assembled artifact.
//
// The Store interface is implemented by InMemoryStore here and by the MySQL
// store in the mysql sub-package. Only the wiring layer decides which one to
// instantiate.
package request
