package message

// EncodeSplit encodes header+answers as one or more wire messages, each at
// most MaxPacketSize bytes, setting the TC bit on every message but the
// last (§3, §4.1). Questions are repeated on every partial message;
// additionals are carried only by the final message. Answers are
// partitioned across messages in their original order.
func EncodeSplit(header Header, questions []Question, answers []Resource, additionals []Resource) ([][]byte, error) {
	if len(answers) == 0 {
		b, err := Encode(Message{Header: header, Questions: questions, Additionals: additionals})
		if err != nil {
			return nil, err
		}
		return [][]byte{b}, nil
	}

	var packets [][]byte
	remaining := answers
	for len(remaining) > 0 {
		n := len(remaining)
		var encoded []byte
		for {
			msg := Message{Header: header, Questions: questions, Answers: remaining[:n]}
			if n == len(remaining) {
				msg.Additionals = additionals
			}
			b, err := Encode(msg)
			if err == nil {
				encoded = b
				break
			}
			if err != ErrOversize {
				return nil, err
			}
			if n == 1 {
				// A single record doesn't fit even alone: nothing more we
				// can do to shrink it.
				return nil, ErrOversize
			}
			n /= 2
		}
		packets = append(packets, encoded)
		remaining = remaining[n:]
	}

	for i := 0; i < len(packets)-1; i++ {
		packets[i][2] |= 0x02 // TC bit, second byte of the flags field
	}

	return packets, nil
}
