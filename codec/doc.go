// Package codec serializes exchangeable values.
//
// The binary form is CBOR with Core Deterministic Encoding (RFC 8949
// section 4.2): the same value always produces the same bytes. Strings are
// carried as CBOR byte strings so embedded zero bytes and non-UTF-8 data
// survive unchanged. Two tags are used for kinds CBOR has no native form
// for:
//
//	40100  table, content is an array of [key, value] pairs in order
//	40101  address, content is an unsigned integer
//
// Integral numbers are written as CBOR integers and every other number as
// the shortest float that preserves its value; both decode to a number.
//
// # JSON
//
// [ToJSON] and [FromJSON] convert values to and from the generic form used
// by encoding/json for human-facing output. The mapping is lossy: tables
// whose keys are exactly 1..n become arrays, every other table becomes an
// object with stringified keys, and addresses render as strings.
package codec
