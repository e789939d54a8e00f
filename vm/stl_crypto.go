package vm

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

func registerCrypto(r *Registry) {
	r.Register("md5Hex", 1, 1, stringFunc(func(s string) Value {
		sum := md5.Sum([]byte(s))
		return String(hex.EncodeToString(sum[:]))
	}))
	r.Register("sha256Hex", 1, 1, stringFunc(func(s string) Value {
		sum := sha256.Sum256([]byte(s))
		return String(hex.EncodeToString(sum[:]))
	}))
	r.Register("sha256HmacChainHex", 1, 1, stlHmacChain)
}

// stlHmacChain keys an HMAC-SHA256 with the first element and feeds each
// digest as the key of the next round.
func stlHmacChain(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	items, err := argItems("sha256HmacChainHex", args, 0)
	if err != nil {
		return nil, err
	}
	if len(items) < 2 {
		return nil, typeErrorf("sha256HmacChainHex: need at least 2 items, got %d", len(items))
	}
	key := []byte(ToString(items[0]))
	for _, item := range items[1:] {
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(ToString(item)))
		key = mac.Sum(nil)
	}
	return String(hex.EncodeToString(key)), nil
}
