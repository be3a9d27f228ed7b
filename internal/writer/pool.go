package writer

import "sync"

// arenaPool recycles output arenas between Apply calls. Managed assemblies
// are typically a few hundred KB.
var arenaPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 256*1024)
		return &buf
	},
}

// getArena returns a zeroed buffer of exactly size bytes.
func getArena(size int) *[]byte {
	buf, ok := arenaPool.Get().(*[]byte)
	if !ok {
		panic("arenaPool returned unexpected type")
	}
	if cap(*buf) < size {
		grown := make([]byte, size)
		*buf = grown
		return buf
	}
	*buf = (*buf)[:size]
	clear(*buf)
	return buf
}

// putArena returns buf to the pool. Arenas above 16 MB are left to the GC.
func putArena(buf *[]byte) {
	if buf == nil || cap(*buf) > 16*1024*1024 {
		return
	}
	*buf = (*buf)[:cap(*buf)]
	arenaPool.Put(buf)
}
