package layout

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
)

func TestForWordSize(t *testing.T) {
	for _, n := range []int{4, 8} {
		l, err := ForWordSize(n)
		if err != nil {
			t.Fatal(err)
		}
		if l.WordSize != n {
			t.Fatalf("wrong layout for %d: %d", n, l.WordSize)
		}
	}
	if _, err := ForWordSize(2); err == nil {
		t.Fatal("expected error for word size 2")
	}
}

func TestRecordSizes(t *testing.T) {
	// The 64-bit sizes match the runtime's structures: five pointers and
	// two 32-bit integers for the enclave info, six 64-bit fields and two
	// 32-bit fields for the TCS head.
	if Layout64.EnclaveInfoSize != 5*8+2*4 {
		t.Fatalf("enclave info size %d", Layout64.EnclaveInfoSize)
	}
	if Layout64.TCSSize != 6*8+2*4 {
		t.Fatalf("tcs size %d", Layout64.TCSSize)
	}
	if Layout32.TCSSize != Layout64.TCSSize {
		t.Fatalf("32-bit tcs size %d", Layout32.TCSSize)
	}
	if Layout32.EnclaveInfoSize != 5*4+2*4 || Layout32.ThreadDataSize != 80 {
		t.Fatalf("32-bit sizes %d %d", Layout32.EnclaveInfoSize, Layout32.ThreadDataSize)
	}
}

func TestDecodeEnclaveInfo64(t *testing.T) {
	buf := new(bytes.Buffer)
	for _, v := range []interface{}{uint64(0x1111), uint64(0x7f0000000000), uint64(0x2222), uint32(2), uint32(11), uint64(0x3333), uint64(0x4444)} {
		binary.Write(buf, binary.LittleEndian, v)
	}
	ei, err := Layout64.DecodeEnclaveInfo(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	want := EnclaveInfo{Next: 0x1111, StartAddr: 0x7f0000000000, TCSList: 0x2222, Type: 2, PathSize: 11, PathAddr: 0x3333, HeapCounterAddr: 0x4444}
	if ei != want {
		t.Fatalf("got %#v, want %#v", ei, want)
	}
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	randbuf := func(n int) []byte {
		buf := make([]byte, n)
		rnd.Read(buf)
		return buf
	}
	for _, l := range []*Layout{Layout32, Layout64} {
		for i := 0; i < 50; i++ {
			buf := randbuf(l.EnclaveInfoSize)
			ei, err := l.DecodeEnclaveInfo(buf)
			if err != nil {
				t.Fatal(err)
			}
			if out := l.EncodeEnclaveInfo(ei); !bytes.Equal(out, buf) {
				t.Fatalf("word size %d: enclave info round trip mismatch\n%x\n%x", l.WordSize, buf, out)
			}

			buf = randbuf(l.TCSSize)
			tcs, err := l.DecodeTCS(buf)
			if err != nil {
				t.Fatal(err)
			}
			if out := l.EncodeTCS(tcs); !bytes.Equal(out, buf) {
				t.Fatalf("word size %d: tcs round trip mismatch", l.WordSize)
			}

			buf = randbuf(l.ThreadDataSize)
			td, err := l.DecodeThreadData(buf)
			if err != nil {
				t.Fatal(err)
			}
			if out := l.EncodeThreadData(td); !bytes.Equal(out, buf) {
				t.Fatalf("word size %d: thread data round trip mismatch", l.WordSize)
			}

			buf = randbuf(l.OcallContextSize)
			ctx, err := l.DecodeOcallContext(buf)
			if err != nil {
				t.Fatal(err)
			}
			if out := l.EncodeOcallContext(ctx); !bytes.Equal(out, buf) {
				t.Fatalf("word size %d: ocall context round trip mismatch", l.WordSize)
			}

			buf = randbuf(l.OcallFrameSize)
			f, err := l.DecodeOcallFrame(buf)
			if err != nil {
				t.Fatal(err)
			}
			if out := l.EncodeOcallFrame(f); !bytes.Equal(out, buf) {
				t.Fatalf("word size %d: ocall frame round trip mismatch", l.WordSize)
			}

			buf = randbuf(l.TCSListNodeSize)
			n, err := l.DecodeTCSListNode(buf)
			if err != nil {
				t.Fatal(err)
			}
			if out := l.EncodeTCSListNode(n); !bytes.Equal(out, buf) {
				t.Fatalf("word size %d: tcs list node round trip mismatch", l.WordSize)
			}
		}
	}
}

func TestTruncated(t *testing.T) {
	for _, l := range []*Layout{Layout32, Layout64} {
		checks := []struct {
			name string
			fn   func() error
		}{
			{"enclave info", func() error { _, err := l.DecodeEnclaveInfo(make([]byte, l.EnclaveInfoSize-1)); return err }},
			{"tcs", func() error { _, err := l.DecodeTCS(make([]byte, 8)); return err }},
			{"tcs list node", func() error { _, err := l.DecodeTCSListNode(nil); return err }},
			{"thread data", func() error { _, err := l.DecodeThreadData(make([]byte, 4*l.WordSize)); return err }},
			{"ocall context", func() error { _, err := l.DecodeOcallContext(make([]byte, 19*l.WordSize)); return err }},
			{"ocall frame", func() error { _, err := l.DecodeOcallFrame(make([]byte, 3)); return err }},
		}
		for _, c := range checks {
			err := c.fn()
			if !errors.Is(err, ErrTruncated) {
				t.Fatalf("word size %d, %s: expected ErrTruncated, got %v", l.WordSize, c.name, err)
			}
			var terr *TruncatedError
			if !errors.As(err, &terr) || terr.Record != c.name {
				t.Fatalf("word size %d: wrong error %#v", l.WordSize, err)
			}
		}
	}
}

func TestThreadDataFields(t *testing.T) {
	var td ThreadData
	td[1], td[2], td[3], td[19] = 0x10, 0x20, 0x30, 0x40
	buf := Layout32.EncodeThreadData(td)
	got, err := Layout32.DecodeThreadData(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSP() != 0x10 || got.StackBase() != 0x20 || got.StackLimit() != 0x30 || got.StackCommit() != 0x40 {
		t.Fatalf("wrong fields %#v", got)
	}

	var ctx OcallContext
	ctx[6], ctx[11], ctx[18] = 1, 2, 3
	if ctx.PrevContext() != 1 || ctx.XBP() != 2 || ctx.OcallFrame() != 3 {
		t.Fatalf("wrong ocall context fields %#v", ctx)
	}
	if Layout64.OcallFrameXBPOffset() != 16 || Layout64.OcallFrameRetOffset() != 24 || Layout32.TCSFlagsOffset() != 8 {
		t.Fatal("wrong patch offsets")
	}
}

func TestTCS32(t *testing.T) {
	// A 32-bit target still sees the processor's TCS: the flags are the
	// second 64-bit field and OFSBase the seventh.
	buf := make([]byte, Layout32.TCSSize)
	binary.LittleEndian.PutUint64(buf[8:], TCSFlagDebug)
	binary.LittleEndian.PutUint64(buf[48:], 0x15000)
	tcs, err := Layout32.DecodeTCS(buf)
	if err != nil {
		t.Fatal(err)
	}
	if tcs.Flags != TCSFlagDebug || tcs.OFSBase != 0x15000 {
		t.Fatalf("wrong tcs %#v", tcs)
	}
}
