package bloom

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/indexsupply/encdex/isxerrors"

	"github.com/goccy/go-json"
	"kr.dev/diff"
)

const testKey = "b6d6dba3be33ad1c4fdb5ae4b1c1a2e7d3b6f1b79e0c76a1d2c2f5a2d8e0f4a1"

func newFilter(tb testing.TB, opts Options) *Filter {
	tb.Helper()
	f, err := New(testKey, opts)
	if err != nil {
		tb.Fatalf("new filter: %s", err)
	}
	return f
}

func randomKey(tb testing.TB) string {
	var k [KeySize]byte
	if _, err := rand.Read(k[:]); err != nil {
		tb.Fatal(err)
	}
	return hex.EncodeToString(k[:])
}

func BenchmarkFilterAdd(b *testing.B) {
	f := newFilter(b, nil)
	terms := make([]string, 1000)
	for i := range terms {
		terms[i] = fmt.Sprintf("title:%d", i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Add(terms...)
	}
}

func TestNew_Defaults(t *testing.T) {
	f := newFilter(t, nil)
	diff.Test(t, t.Errorf, 256, f.M())
	diff.Test(t, t.Errorf, 3, f.K())
	diff.Test(t, t.Errorf, []uint16{}, f.Bits())
	diff.Test(t, t.Errorf, 0, f.Len())
}

func TestNew_Valid(t *testing.T) {
	for m := 32; m <= 65536; m *= 2 {
		for k := 3; k <= 16; k++ {
			f, err := New(testKey, Options{OptFilterSize: m, OptFilterTermBits: k})
			diff.Test(t, t.Fatalf, nil, err)
			diff.Test(t, t.Errorf, m, f.M())
			diff.Test(t, t.Errorf, k, f.K())
		}
	}
	f, err := New(testKey, Options{
		OptFilterSize:     json.Number("1024"),
		OptFilterTermBits: uint8(5),
	})
	diff.Test(t, t.Fatalf, nil, err)
	diff.Test(t, t.Errorf, 1024, f.M())
	diff.Test(t, t.Errorf, 5, f.K())
}

func TestNew_Key(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"", "key must be 32 bytes, got: 0"},
		{"zz" + testKey[2:], `key must be a hex string, got: "zz`},
		{testKey + " ", "key must be a hex string"},
		{testKey[:62], "key must be 32 bytes, got: 31"},
		{testKey + "00", "key must be 32 bytes, got: 33"},
		{testKey[:63], "key must be 32 bytes"},
	}
	for _, tc := range cases {
		_, err := New(tc.key, nil)
		if err == nil {
			t.Fatalf("expected error for key %q", tc.key)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("want %q in %q", tc.want, err.Error())
		}
		diff.Test(t, t.Errorf, isxerrors.KindInternal, isxerrors.KindOf(err))
	}
	_, err := New(strings.ToUpper(testKey), nil)
	diff.Test(t, t.Errorf, nil, err)
}

func TestNew_FilterSize(t *testing.T) {
	cases := []struct {
		val  any
		want string
	}{
		{nil, "filterSize must be an integer, got: nil"},
		{"256", `filterSize must be an integer, got: "256"`},
		{256.0, "filterSize must be an integer, got: 256"},
		{json.Number("256.5"), "filterSize must be an integer, got: 256.5"},
		{[]int{256}, "filterSize must be an integer, got: []int{256}"},
		{true, "filterSize must be an integer, got: true"},
		{0, "filterSize must be between 32 and 65536, got: 0"},
		{-64, "filterSize must be between 32 and 65536, got: -64"},
		{16, "filterSize must be between 32 and 65536, got: 16"},
		{131072, "filterSize must be between 32 and 65536, got: 131072"},
		{100, "filterSize must be a power of 2, got: 100"},
		{255, "filterSize must be a power of 2, got: 255"},
		{json.Number("1000"), "filterSize must be a power of 2, got: 1000"},
		{uint64(1 << 63), "filterSize must be between 32 and 65536, got: 0x8000000000000000"},
		{json.Number("99999999999999999999"), "filterSize must be between 32 and 65536, got: 99999999999999999999"},
		{json.Number("-99999999999999999999"), "filterSize must be between 32 and 65536, got: -99999999999999999999"},
	}
	for _, tc := range cases {
		_, err := New(testKey, Options{OptFilterSize: tc.val})
		if err == nil {
			t.Fatalf("expected error for %#v", tc.val)
		}
		diff.Test(t, t.Errorf, tc.want, err.Error())
		diff.Test(t, t.Errorf, isxerrors.KindSchema, isxerrors.KindOf(err))
	}
}

func TestNew_TermBits(t *testing.T) {
	cases := []struct {
		val  any
		want string
	}{
		{nil, "filterTermBits must be an integer, got: nil"},
		{"3", `filterTermBits must be an integer, got: "3"`},
		{3.5, "filterTermBits must be an integer, got: 3.5"},
		{2, "filterTermBits must be between 3 and 16, got: 2"},
		{0, "filterTermBits must be between 3 and 16, got: 0"},
		{17, "filterTermBits must be between 3 and 16, got: 17"},
		{json.Number("-1"), "filterTermBits must be between 3 and 16, got: -1"},
	}
	for _, tc := range cases {
		_, err := New(testKey, Options{OptFilterTermBits: tc.val})
		if err == nil {
			t.Fatalf("expected error for %#v", tc.val)
		}
		diff.Test(t, t.Errorf, tc.want, err.Error())
		diff.Test(t, t.Errorf, isxerrors.KindSchema, isxerrors.KindOf(err))
	}
}

func TestAdd(t *testing.T) {
	f := newFilter(t, nil)
	f.Add("yes")
	diff.Test(t, t.Errorf, []uint16{68, 78, 198}, f.Bits())

	g := newFilter(t, nil).Add("abc")
	h := newFilter(t, nil).Add("abc")
	diff.Test(t, t.Errorf, []uint16{76, 103, 130}, g.Bits())
	diff.Test(t, t.Errorf, g.Bits(), h.Bits())
}

func TestAdd_Idempotent(t *testing.T) {
	once := newFilter(t, nil).Add("hello")
	twice := newFilter(t, nil).Add("hello").Add("hello")
	diff.Test(t, t.Errorf, once.Bits(), twice.Bits())

	slice := newFilter(t, nil).Add([]string{"hello"}...)
	diff.Test(t, t.Errorf, once.Bits(), slice.Bits())
}

func TestAdd_Bounds(t *testing.T) {
	terms := []string{"", "a", "yes", "title:foo", "日本語", strings.Repeat("x", 1000)}
	for m := MinFilterSize; m <= MaxFilterSize; m *= 2 {
		for k := MinTermBits; k <= MaxTermBits; k++ {
			for _, term := range terms {
				f := newFilter(t, Options{OptFilterSize: m, OptFilterTermBits: k})
				f.Add(term)
				if f.Len() == 0 || f.Len() > k {
					t.Fatalf("m=%d k=%d term=%q: got %d bits", m, k, term, f.Len())
				}
				for _, b := range f.Bits() {
					if int(b) >= m {
						t.Fatalf("m=%d k=%d term=%q: bit %d out of range", m, k, term, b)
					}
				}
			}
		}
	}
}

func TestAdd_Collisions(t *testing.T) {
	// 16 slices reduced mod 32 are certain to collide
	f := newFilter(t, Options{OptFilterSize: 32, OptFilterTermBits: 16})
	f.Add("yes")
	diff.Test(t, t.Errorf, 12, f.Len())
}

func TestBits_RoundTrip(t *testing.T) {
	f := newFilter(t, Options{OptFilterSize: 65536, OptFilterTermBits: 16})
	for i := 0; i < 100; i++ {
		f.Add(fmt.Sprintf("term-%d", i))
	}
	got := map[uint16]struct{}{}
	for _, b := range f.Bits() {
		got[b] = struct{}{}
	}
	diff.Test(t, t.Errorf, f.bits, got)
}

func TestPositions(t *testing.T) {
	key, _ := hex.DecodeString(testKey)
	diff.Test(t, t.Errorf, []uint16{68, 198, 78}, Positions(key, "yes", 256, 3))
	diff.Test(t, t.Errorf, []uint16{44, 198, 138}, Positions(key, "a", 256, 3))
	diff.Test(t, t.Errorf, 12, len(Positions(key, "yes", 32, 16)))

	other, _ := hex.DecodeString(randomKey(t))
	for _, term := range []string{"yes", "abc", "a"} {
		b, err := New(hex.EncodeToString(other), nil)
		diff.Test(t, t.Fatalf, nil, err)
		b.Add(term)
		diff.Test(t, t.Errorf, len(Positions(other, term, 256, 3)), b.Len())
	}
}

func TestSubset(t *testing.T) {
	abc := newFilter(t, nil).Add("a", "b", "c")
	ab := newFilter(t, nil).Add("a", "b")
	de := newFilter(t, nil).Add("d", "e")
	cd := newFilter(t, nil).Add("c", "d")
	empty := newFilter(t, nil)

	diff.Test(t, t.Errorf, true, ab.Subset(abc))
	diff.Test(t, t.Errorf, true, abc.Subset(abc))
	diff.Test(t, t.Errorf, false, abc.Subset(ab))
	diff.Test(t, t.Errorf, false, de.Subset(abc))
	diff.Test(t, t.Errorf, false, cd.Subset(abc))
	diff.Test(t, t.Errorf, true, empty.Subset(abc))
	diff.Test(t, t.Errorf, true, empty.Subset(empty))
	diff.Test(t, t.Errorf, false, ab.Subset(empty))
	diff.Test(t, t.Errorf, false, ab.Subset(nil))
	diff.Test(t, t.Errorf, true, empty.Subset(nil))

	diff.Test(t, t.Errorf, true, SubsetBits(ab.Bits(), abc.Bits()))
	diff.Test(t, t.Errorf, false, SubsetBits(cd.Bits(), abc.Bits()))
	diff.Test(t, t.Errorf, true, SubsetBits(nil, abc.Bits()))
	diff.Test(t, t.Errorf, false, SubsetBits(de.Bits(), nil))
}
