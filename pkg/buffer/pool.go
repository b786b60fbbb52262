package buffer

import "github.com/bytedance/gopkg/lang/mcache"

// bsPool backs RingBuffer's growth path with a shared byte-slice cache:
// the backing array a grow replaces is returned to the cache, so later
// grows across many connections can reuse it instead of round-tripping
// through the GC.
var bsPool = mcachePool{}

type mcachePool struct{}

func (mcachePool) Get(size int) []byte {
	return mcache.Malloc(size)
}

func (mcachePool) Put(buf []byte) {
	mcache.Free(buf)
}
