// Package curve defines the classification rules that map trace log events
// onto named curves.
//
// A rule has one of four kinds:
//
//	ignore  matching events are dropped, nothing else is evaluated
//	spike   every match emits a zero-width line
//	block   a Down match opens a block, the next Up match closes it
//	toggle  every two matches of the same pattern form a block
//
// Definitions are validated and compiled once into a Set, which is then
// shared read-only by every node job. Patterns must match the whole event
// text; "cpu0" does not match "cpu0 idle".
package curve
