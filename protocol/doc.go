// Package protocol implements the iproto wire format spoken between the
// client and the database server. It translates between logical packets
// (opcode, sync-id, schema-id, arguments) and length-prefixed MessagePack
// frames, and parses the fixed-size server greeting used during the
// connection handshake.
//
// The package focuses on:
//   - Encoding request packets into length-prefixed MessagePack buffers
//   - Decoding response packets into (code, schema-id, headers, body)
//   - Classifying framing failures (malformed vs. oversize frames)
//   - The chap-sha1 authentication scramble derived from the greeting salt
//
// Key Components:
//
//   - Code: request opcodes (PING, SELECT, INSERT, ..., EXECUTE) and the
//     response success/error codes, including the wrong-schema-version
//     sentinel used by the schema reconciler.
//
//   - Key: integer keys of the header and body MessagePack maps.
//
//   - Packet: a decoded response with typed accessors for the result data,
//     error message and SQL metadata.
//
//   - Greeting: the 128-byte ASCII block (server version + base64 salt)
//     read before any packet exchange.
//
// Thread Safety:
//
//	All functions in this package are pure and safe for concurrent use.
//	A Packet is immutable after ReadPacket returns it.
package protocol
