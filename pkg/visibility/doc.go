// Package visibility defines the contract used to decide whether a field or a
// step applies given the answers collected so far. The expr subpackage
// provides the default rule language.
package visibility
