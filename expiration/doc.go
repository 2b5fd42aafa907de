// Package expiration decides when cache entries are expired.
//
// An entry carries a lifespan, measured from the moment it was committed, and a max idle
// duration, measured from its last access. Evaluate combines both deadlines with an
// ExpirationPolicy and reports which one, if any, has passed.
package expiration
