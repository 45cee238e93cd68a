package ids

import (
	"crypto/rand"
	"math/big"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Charsets accepted by RandomString.
const (
	Alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Digits       = "0123456789"
)

// RandomString returns a random string of length n drawn from charset.
// Token ids, access token secrets and OTP values depend on this being
// unpredictable, so it uses crypto/rand rather than the ULID entropy.
func RandomString(n int, charset string) string {
	if n <= 0 {
		return ""
	}
	if charset == "" {
		charset = Alphanumeric
	}
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("ids: crypto/rand unavailable: " + err.Error())
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out)
}

// NewString returns a random alphanumeric identifier of length n.
func NewString(n int) string {
	return RandomString(n, Alphanumeric)
}
