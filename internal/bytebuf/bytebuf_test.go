// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package bytebuf_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/nathansizemore/alnio/internal/bytebuf"
)

func TestBuffer(t *testing.T) { RunTests(t) }

func init() { RegisterTestSuite(&BufferTest{}) }

type BufferTest struct {
	buf *bytebuf.Buffer
}

func (t *BufferTest) SetUp(ti *TestInfo) {
	t.buf = bytebuf.New()
}

func (t *BufferTest) diff(want, got []byte) string {
	return pretty.Compare(want, got)
}

func (t *BufferTest) EmptyBufferHasZeroLength() {
	ExpectEq(0, t.buf.Len())
}

// Invariant 3 from spec.md §8: extract is length-preserving.
func (t *BufferTest) ExtractIsLengthPreserving() {
	b := []byte("hello")
	t.buf.Append(b)

	out := t.buf.Extract(len(b))
	ExpectThat(out, DeepEquals(b), t.diff(b, out))
	ExpectEq(0, t.buf.Len())
}

// Invariant 4 from spec.md §8: prepend-then-extract.
func (t *BufferTest) PrependThenExtract() {
	a := []byte("abc")
	b := []byte("XY")

	t.buf.Append(a)
	t.buf.Prepend(b)

	want := append(append([]byte{}, b...), a...)
	out := t.buf.Extract(len(a) + len(b))
	ExpectThat(out, DeepEquals(want), t.diff(want, out))
}

func (t *BufferTest) ExtractFewerThanRequestedWhenShort() {
	t.buf.Append([]byte("ab"))

	out := t.buf.Extract(10)
	ExpectEq(2, len(out))
	ExpectEq(0, t.buf.Len())
}

func (t *BufferTest) ExtractLeavesRemainderInOrder() {
	t.buf.Append([]byte("abcdef"))

	first := t.buf.Extract(3)
	ExpectThat(first, DeepEquals([]byte("abc")))

	second := t.buf.Extract(3)
	ExpectThat(second, DeepEquals([]byte("def")))
	ExpectEq(0, t.buf.Len())
}

func (t *BufferTest) MultipleAppendsAreOrdered() {
	t.buf.Append([]byte("foo"))
	t.buf.Append([]byte("bar"))

	ExpectEq(6, t.buf.Len())
	ExpectThat(t.buf.Extract(6), DeepEquals([]byte("foobar")))
}

func (t *BufferTest) ExtractAllDrainsEverything() {
	t.buf.Append([]byte("payload"))

	out := t.buf.ExtractAll()
	ExpectThat(out, DeepEquals([]byte("payload")))
	ExpectEq(0, t.buf.Len())
}

func (t *BufferTest) ExtractZeroReturnsEmptySlice() {
	t.buf.Append([]byte("abc"))

	out := t.buf.Extract(0)
	ExpectEq(0, len(out))
	ExpectEq(3, t.buf.Len())
}

func (t *BufferTest) ConcurrentAppendsPreserveTotalLength() {
	const n = 64
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			t.buf.Append([]byte("x"))
			done <- struct{}{}
		}()
	}

	for i := 0; i < n; i++ {
		<-done
	}

	ExpectEq(n, t.buf.Len())
}
