// Package ir defines the script-level value model shared by the harness,
// the scenario interpreter, the stub system APIs and the result store.
//
// ir imports nothing internal. Every other package converts Go values with
// From and compares them with StrictEqual or DeepEqual, so equality and
// stringification rules live in one place:
//
//   - Numbers are float64; every Go numeric type converts to Number
//   - Typed arrays keep their element kind and compare by string form
//   - nil converts to Undefined, typed nil pointers and slices to Null
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only
//     serialization used for storage, hashing and golden files
package ir
