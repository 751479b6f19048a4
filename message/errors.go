package message

import "errors"

// ErrMalformedPacket is returned by Decode when the input cannot be parsed
// safely: a bad compression pointer, an oversize name, a truncated record,
// or a reserved label-length prefix. Decode never reads out of bounds or
// loops when it returns this error.
var ErrMalformedPacket = errors.New("message: malformed packet")

// ErrOversize is returned by Encode when a message cannot fit within
// MaxPacketSize even with maximum name compression. The caller is expected
// to split the answer set across multiple messages (§4.1).
var ErrOversize = errors.New("message: message exceeds maximum packet size")
