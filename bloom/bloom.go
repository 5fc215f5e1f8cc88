// Keyed Bloom filter
//
// Used to build filter-match indexes: each record's terms are
// reduced to a sparse set of bit positions and a query matches a
// record when the query's positions are a subset of the record's.
// The positions are derived from an HMAC of the term so the store
// never learns which terms produced them.
package bloom

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"math"
	"math/bits"
	"slices"
	"strconv"

	"github.com/indexsupply/encdex/isxerrors"

	"github.com/goccy/go-json"
)

const (
	KeySize = 32

	DefaultFilterSize = 256
	MinFilterSize     = 32
	MaxFilterSize     = 65536

	DefaultTermBits = 3
	MinTermBits     = 3
	// Each position is taken from a 2 byte slice of a
	// single SHA-256 digest so there can be at most 16.
	MaxTermBits = sha256.Size / 2
)

// Schema option names
const (
	OptFilterSize     = "filterSize"
	OptFilterTermBits = "filterTermBits"
)

// Options as decoded from an index's settings.
// Integral values may be any Go integer kind or a json.Number.
type Options map[string]any

type Filter struct {
	m, k int
	mac  hash.Hash
	bits map[uint16]struct{}
}

// Returns an internal error when key isn't 64 hex chars
// and a schema error when filterSize or filterTermBits are invalid.
func New(key string, opts Options) (*Filter, error) {
	for _, r := range key {
		if !isHex(r) {
			return nil, isxerrors.Internal("key must be a hex string, got: %q", key)
		}
	}
	kb, err := hex.DecodeString(key)
	if err != nil {
		// odd number of hex characters
		return nil, isxerrors.Internal("key must be %d bytes, got: %d", KeySize, len(key)/2)
	}
	if len(kb) != KeySize {
		return nil, isxerrors.Internal("key must be %d bytes, got: %d", KeySize, len(kb))
	}
	m, k, err := ValidateOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Filter{
		m:    m,
		k:    k,
		mac:  hmac.New(sha256.New, kb),
		bits: make(map[uint16]struct{}),
	}, nil
}

// Returns the filter size and term bits described by opts.
// Missing options take their defaults.
func ValidateOptions(opts Options) (int, int, error) {
	m, err := filterSize(opts)
	if err != nil {
		return 0, 0, err
	}
	k, err := termBits(opts)
	if err != nil {
		return 0, 0, err
	}
	return m, k, nil
}

func isHex(r rune) bool {
	return ('0' <= r && r <= '9') || ('a' <= r && r <= 'f') || ('A' <= r && r <= 'F')
}

func filterSize(opts Options) (int, error) {
	v, ok := opts[OptFilterSize]
	if !ok {
		return DefaultFilterSize, nil
	}
	n, ok := integer(v)
	switch {
	case !ok:
		const tag = "filterSize must be an integer, got: %s"
		return 0, isxerrors.Schema(tag, repr(v))
	case n < MinFilterSize || n > MaxFilterSize:
		const tag = "filterSize must be between %d and %d, got: %s"
		return 0, isxerrors.Schema(tag, MinFilterSize, MaxFilterSize, repr(v))
	case bits.OnesCount64(uint64(n)) != 1:
		const tag = "filterSize must be a power of 2, got: %s"
		return 0, isxerrors.Schema(tag, repr(v))
	}
	return int(n), nil
}

func termBits(opts Options) (int, error) {
	v, ok := opts[OptFilterTermBits]
	if !ok {
		return DefaultTermBits, nil
	}
	n, ok := integer(v)
	switch {
	case !ok:
		const tag = "filterTermBits must be an integer, got: %s"
		return 0, isxerrors.Schema(tag, repr(v))
	case n < MinTermBits || n > MaxTermBits:
		const tag = "filterTermBits must be between %d and %d, got: %s"
		return 0, isxerrors.Schema(tag, MinTermBits, MaxTermBits, repr(v))
	}
	return int(n), nil
}

// Floats are rejected even when integral.
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return clamp(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return clamp(n), true
	case json.Number:
		// out of range integers are clamped by ParseInt
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil || errors.Is(err, strconv.ErrRange)
	default:
		return 0, false
	}
}

func clamp(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func repr(v any) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case json.Number:
		return string(v)
	default:
		return fmt.Sprintf("%#v", v)
	}
}

func (f *Filter) M() int   { return f.m }
func (f *Filter) K() int   { return f.k }
func (f *Filter) Len() int { return len(f.bits) }

// Adds each term in order and returns f.
// Caller is responsible for concurrency control.
func (f *Filter) Add(terms ...string) *Filter {
	var pos [MaxTermBits]uint16
	for _, t := range terms {
		for _, p := range positions(f.mac, t, f.m, f.k, pos[:0]) {
			f.bits[p] = struct{}{}
		}
	}
	return f
}

// Reports whether every bit in f is also set in other.
// A nil other is treated as an empty filter.
func (f *Filter) Subset(other *Filter) bool {
	if other == nil {
		return len(f.bits) == 0
	}
	if len(f.bits) > len(other.bits) {
		return false
	}
	for b := range f.bits {
		if _, ok := other.bits[b]; !ok {
			return false
		}
	}
	return true
}

// Returns the set bit positions in ascending order.
// The result is never nil.
func (f *Filter) Bits() []uint16 {
	res := make([]uint16, 0, len(f.bits))
	for b := range f.bits {
		res = append(res, b)
	}
	slices.Sort(res)
	return res
}

// Positions returns the distinct bit positions that term maps
// to in a filter with the given key, size m and k term bits.
//
// The i'th position is the little-endian uint16 at
// HMAC-SHA256(key, term)[2i:2i+2] mod m.
// Fewer than k positions are returned when slices collide.
func Positions(key []byte, term string, m, k int) []uint16 {
	return positions(hmac.New(sha256.New, key), term, m, k, nil)
}

func positions(mac hash.Hash, term string, m, k int, dst []uint16) []uint16 {
	var digest [sha256.Size]byte
	mac.Reset()
	mac.Write([]byte(term))
	mac.Sum(digest[:0])
	for i := 0; i < k; i++ {
		p := uint16(int(binary.LittleEndian.Uint16(digest[2*i:])) % m)
		if !slices.Contains(dst, p) {
			dst = append(dst, p)
		}
	}
	return dst
}

// Reports whether every position in query is present in target.
// Useful for comparing serialized filters (see Filter.Bits).
func SubsetBits(query, target []uint16) bool {
	set := make(map[uint16]struct{}, len(target))
	for _, b := range target {
		set[b] = struct{}{}
	}
	for _, b := range query {
		if _, ok := set[b]; !ok {
			return false
		}
	}
	return true
}
