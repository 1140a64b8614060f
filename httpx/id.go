package httpx

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

// Request IDs are 128 random bits in hex. Should the system source ever
// fail, IDs become "<process start, base 36>-<sequence>", unique for the
// life of the process though no longer unguessable.
var (
	processStart = strconv.FormatInt(time.Now().UnixNano(), 36)
	requestSeq   atomic.Uint64
)

func genID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return processStart + "-" + strconv.FormatUint(requestSeq.Add(1), 36)
	}
	return hex.EncodeToString(b[:])
}
