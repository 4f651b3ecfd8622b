package worker

import (
	"crypto/rand"
	"encoding/binary"
)

// NewRequestID draws a request id uniformly at random from the non-zero
// 32-bit space. 0 is reserved for the handshake response that publishes
// the worker's inbound channel. Collisions within the small
// window a request is in flight are astronomically unlikely at this
// width and are not otherwise guarded against, matching the source
// contract.
func NewRequestID() RequestID {
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic(err) // crypto/rand failing indicates a broken host; nothing downstream can recover
		}
		id := binary.BigEndian.Uint32(buf[:])
		if id != 0 {
			return RequestID(id)
		}
	}
}
