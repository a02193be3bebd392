package util

import "sync"

// FrameBufSize fits the largest wire frame: a 2-byte length prefix plus
// 65535 bytes of payload.
const FrameBufSize = 2 + 65535

// BufPool provides reusable byte buffers for frame encoding, reducing
// GC pressure on the broadcast path where one message is written to
// every session.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, FrameBufSize)
		return &buf
	},
}

// GetBuf retrieves a zero-length buffer from the pool.  Callers must
// return it with [PutBuf] when finished.
func GetBuf() *[]byte {
	buf := BufPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
