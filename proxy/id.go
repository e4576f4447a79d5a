package proxy

import (
	"crypto/rand"
	"strconv"
	"sync/atomic"

	cristalbase64 "github.com/cristalhq/base64"
)

// IDGenerator hands out connection-scoped call ids: a random prefix chosen once plus a
// counter, so an id is never reused for the lifetime of the generator.
type IDGenerator struct {
	prefix string
	seq    atomic.Uint64
}

func NewIDGenerator() *IDGenerator {
	var by [9]byte // multiple of 3: no padding
	rand.Read(by[:])
	return &IDGenerator{prefix: cristalbase64.URLEncoding.EncodeToString(by[:])}
}

func (g *IDGenerator) Next() string {
	return g.prefix + "." + strconv.FormatUint(g.seq.Add(1), 36)
}
