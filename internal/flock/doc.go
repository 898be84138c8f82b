// Package flock provides an exclusive, non-blocking owner lock on a file.
//
// On-disk page stores take this lock on their directory so that two
// processes cannot append to the same buffer log.
package flock
