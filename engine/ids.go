package engine

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/justapithecus/artificer/types"
)

// randomWidth is the fixed width of the random base36 segment. Keeping it
// fixed makes random||counter unambiguous, so ids never collide within a
// process.
const randomWidth = 8

var (
	idCounter  atomic.Uint64
	randomSpan = pow36(randomWidth)
)

func pow36(n int) uint64 {
	v := uint64(1)
	for range n {
		v *= 36
	}
	return v
}

// NewActionID returns an id of the form <type>_<unix-millis>_<base36>.
func NewActionID(t types.ActionType) string {
	random := strconv.FormatUint(rand.Uint64N(randomSpan), 36)
	if pad := randomWidth - len(random); pad > 0 {
		random = strings.Repeat("0", pad) + random
	}
	counter := strconv.FormatUint(idCounter.Add(1), 36)

	var b strings.Builder
	b.WriteString(string(t))
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	b.WriteByte('_')
	b.WriteString(random)
	b.WriteString(counter)
	return b.String()
}
