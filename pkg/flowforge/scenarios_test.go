package flowforge_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/samplekernels"
	"github.com/flowforge/flowforge/pkg/flowforge"
)

// TestScenario_Identity runs a byte source through an identity transducer
// into a sink and checks the bytes come out unchanged, end to end: C1's
// relationship graph, C2's buffer graph, C3's schedule, and C4/C5/C6/C7's
// segment execution all have to agree for this to round-trip at all.
//
// data's length is a multiple of the 4-byte stride throughout: Identity
// declares a Fixed(4) input with no AttrCanModifySegmentLength, so (by
// design, matching a real Fixed-rate binding's all-or-nothing semantics) it
// can only ever consume whole strides -- a source whose final write is
// shorter than the stride would leave a remainder Identity can never drain.
func TestScenario_Identity(t *testing.T) {
	ctx := context.Background()
	data := bytes.Repeat([]byte("flow"), 11)

	var out []byte
	kernels := []*flowforge.KernelDescriptor{
		samplekernels.NewByteSource("source", "raw", data, 4),
		samplekernels.NewIdentity("copy", "raw", "copied", 4),
		samplekernels.NewByteSink("sink", "copied", 4, &out),
	}

	prog, err := flowforge.Compile(ctx, kernels, flowforge.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, prog.Run(ctx))
	assert.Equal(t, data, out)
}

// TestScenario_PopCount runs a stream of 64-bit words through a pop-count
// reduction and checks the final running total against a reference count
// computed independently with math/bits.
func TestScenario_PopCount(t *testing.T) {
	ctx := context.Background()
	words := []uint64{0xFFFFFFFFFFFFFFFF, 0x0F0F0F0F0F0F0F0F, 0, 0x8000000000000001}
	data := make([]byte, 8*len(words))
	var want uint64
	for i, w := range words {
		for b := 0; b < 8; b++ {
			data[i*8+b] = byte(w >> (8 * b))
		}
		want += popcount(w)
	}

	var out []byte
	kernels := []*flowforge.KernelDescriptor{
		samplekernels.NewByteSource("source", "words", data, 8),
		samplekernels.NewPopCount("popcount", "words", "counts"),
		samplekernels.NewByteSink("sink", "counts", 8, &out),
	}

	prog, err := flowforge.Compile(ctx, kernels, flowforge.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, prog.Run(ctx))

	require.Len(t, out, 8*len(words))
	got := leU64(out[len(out)-8:])
	assert.Equal(t, want, got)
}

// TestScenario_FixedBounded chains a Fixed(1)-rate source into a kernel
// declaring a Bounded(0,2) output rate and checks every input byte comes out
// doubled, demonstrating that a kernel may produce a variable item count
// within a declared range rather than a fixed 1:1 ratio.
func TestScenario_FixedBounded(t *testing.T) {
	ctx := context.Background()
	data := []byte{1, 2, 3, 4, 5}

	var out []byte
	kernels := []*flowforge.KernelDescriptor{
		samplekernels.NewByteSource("source", "raw", data, 1),
		samplekernels.NewDoubler("doubler", "raw", "doubled"),
		samplekernels.NewByteSink("sink", "doubled", 2, &out),
	}

	prog, err := flowforge.Compile(ctx, kernels, flowforge.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, prog.Run(ctx))

	want := make([]byte, 0, len(data)*2)
	for _, b := range data {
		want = append(want, b, b)
	}
	assert.Equal(t, want, out)
}

// TestScenario_ZeroExtended feeds a 100-byte and a 10-byte stream into a
// merge kernel whose short binding is marked AttrZeroExtended: after the
// short stream closes, the long stream continues to be read and the merge
// sees zeros for the short operand, so the tail of the output equals the
// long stream unchanged.
func TestScenario_ZeroExtended(t *testing.T) {
	ctx := context.Background()
	long := make([]byte, 100)
	for i := range long {
		long[i] = byte(i + 1)
	}
	short := make([]byte, 10)
	for i := range short {
		short[i] = byte(200 + i)
	}

	var out []byte
	kernels := []*flowforge.KernelDescriptor{
		samplekernels.NewByteSource("longsrc", "long", long, 1),
		samplekernels.NewByteSource("shortsrc", "short", short, 1),
		samplekernels.NewZeroExtendedMerge("merge", "long", "short", "merged"),
		samplekernels.NewByteSink("sink", "merged", 1, &out),
	}

	prog, err := flowforge.Compile(ctx, kernels, flowforge.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, prog.Run(ctx))

	require.Len(t, out, len(long))
	for i := 0; i < len(short); i++ {
		assert.Equal(t, long[i]^short[i], out[i], "byte %d", i)
	}
	for i := len(short); i < len(long); i++ {
		assert.Equal(t, long[i], out[i], "byte %d", i)
	}
}

// TestScenario_PartialSumDriven feeds a variable-length record stream and its
// cumulative-length index into a RatePartialSum consumer and checks it
// recovers exactly the concatenated record bytes, backing off to whatever
// prefix of records the reference index currently covers whenever the full
// stream is not yet accessible.
func TestScenario_PartialSumDriven(t *testing.T) {
	ctx := context.Background()
	recordLengths := []uint64{2, 5, 1, 3}
	var records []byte
	for i, n := range recordLengths {
		for j := uint64(0); j < n; j++ {
			records = append(records, byte('A'+i))
		}
	}

	var collected []byte
	kernels := []*flowforge.KernelDescriptor{
		samplekernels.NewByteSource("records", "record-bytes", records, uint64(len(records))),
		samplekernels.NewCumulativeLengthSource("lengths", "record-lengths", recordLengths),
		samplekernels.NewPartialSumConsumer("consumer", "record-bytes", "record-lengths", &collected),
	}

	prog, err := flowforge.Compile(ctx, kernels, flowforge.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, prog.Run(ctx))

	assert.Equal(t, records, collected)
}

// TestScenario_Deadlock exercises the termination graph's no-progress
// detector directly: two kernels that never produce or consume anything
// across DeadlockThreshold consecutive rounds must be reported as a
// deadlock, independent of any particular buffer-starvation path through a
// live Driver run.
func TestScenario_Deadlock(t *testing.T) {
	a := flowforge.NodeID(0)
	b := flowforge.NodeID(1)
	tg := flowforge.NewTerminationGraph([]flowforge.NodeID{a, b}, 2)

	require.NoError(t, tg.ObserveRound(true))
	require.NoError(t, tg.ObserveRound(false))
	err := tg.ObserveRound(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.Equal(t, flowforge.StateAbnormallyTerminated, tg.State(a))
	assert.Equal(t, flowforge.StateAbnormallyTerminated, tg.State(b))
}

func popcount(w uint64) uint64 {
	var n uint64
	for w != 0 {
		n += w & 1
		w >>= 1
	}
	return n
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
