// Package credential defines the bearer credential and the stores that own it.
//
// A Store is the only writer of the current credential. The refresh coordinator
// writes through it after a successful refresh and the session invalidator clears
// it after a failed one; everything else only reads.
package credential
