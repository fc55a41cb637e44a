// Package canon holds the structured business event model and its canonical
// byte encoding.
//
// The canonical encoding is the ONLY serialization used as hashing input.
// Display and storage formatting are independent of it. Two events with the
// same logical content always encode to identical bytes, whatever order their
// fields were populated in and whichever code path built them.
//
// Key design constraints:
//   - Object keys are sorted explicitly (UTF-16 code units), never by relying
//     on map iteration order
//   - Strings are NFC normalized at the serialization boundary
//   - Numbers use the shortest round-tripping ECMAScript form
//   - nil and empty collections are both omitted
//   - All JSON tags use snake_case
//
// canon imports nothing internal.
package canon
