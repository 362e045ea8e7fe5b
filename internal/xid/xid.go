package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// New returns "<prefix>-<unix millis, base36>-<random hex>". The time part
// keeps ids roughly sortable by creation.
func New(prefix string) string {
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 36)
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s-%d", prefix, stamp, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s-%s", prefix, stamp, hex.EncodeToString(buf))
}
