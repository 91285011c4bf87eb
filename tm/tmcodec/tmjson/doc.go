// Package tmjson contains a [tmcodec.MarshalCodec] that serializes to and from JSON.
//
// JSON is easy to read while debugging a network of nodes.
// Other encodings will be more compact.
package tmjson
