// Package tcpros implements the byte-stream side of a topic connection: the
// connection header exchanged right after a stream opens, length-prefixed
// message frames, per-connection statistics, and the dialer and listener used
// to open streams.
//
// Wire format. Every header and every message is a frame: a 4-byte
// little-endian length followed by that many bytes. A header frame body is a
// sequence of fields, each itself a 4-byte little-endian length followed by a
// "key=value" string.
package tcpros
