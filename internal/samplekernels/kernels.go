// Package samplekernels provides small, self-contained KernelDescriptors
// exercising flowforge's processing-rate and attribute surface: a byte
// source/sink pair, an identity transducer, a pop-count reduction over
// fixed-width words, and a partial-sum-driven consumer. cmd/flowforgec and
// the package examples wire these together into runnable pipelines; the
// pkg/flowforge scenario tests drive them directly.
package samplekernels

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

// NewByteSource returns a KindSource kernel that emits the bytes of data, one
// item per byte, StrideSize items at a time, reporting fewer items completed
// on its final, possibly partial stride (AttrCanModifySegmentLength) and
// setting CanTerminateEarly so the pipeline winds down once data is
// exhausted rather than waiting on an external EOF signal.
func NewByteSource(name, streamSet string, data []byte, strideSize uint64) *flowforge.KernelDescriptor {
	var pos uint64
	attrs := flowforge.AttributeSet{}
	attrs.Set(flowforge.AttrCanModifySegmentLength)

	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSource,
		StrideSize: strideSize,
		Outputs: []flowforge.Binding{
			{Name: "out", StreamSet: streamSet, Rate: flowforge.Unknown()},
		},
		Attributes:        attrs,
		CanTerminateEarly: true,
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			remaining := uint64(len(data)) - pos
			want := strides * strideSize
			n := want
			if remaining < n {
				n = remaining
			}
			if n == 0 {
				return 0, nil
			}
			if err := sc.WriteOutput("out", data[pos:pos+n], n); err != nil {
				return 0, err
			}
			pos += n
			completed := n / strideSize
			if n%strideSize != 0 {
				completed++
			}
			return completed, nil
		},
	}
}

// NewIdentity returns a KindSegment kernel that copies every item of its
// input stream-set directly to its output stream-set, unchanged, at a fixed
// 1:1 rate.
func NewIdentity(name, inStreamSet, outStreamSet string, strideSize uint64) *flowforge.KernelDescriptor {
	buf := make([]byte, strideSize)
	var pos uint64
	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSegment,
		StrideSize: strideSize,
		Inputs: []flowforge.Binding{
			{Name: "in", StreamSet: inStreamSet, Rate: flowforge.Fixed(strideSize)},
		},
		Outputs: []flowforge.Binding{
			{Name: "out", StreamSet: outStreamSet, Rate: flowforge.Fixed(strideSize)},
		},
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			for i := uint64(0); i < strides; i++ {
				if err := sc.ReadInput("in", pos, strideSize, buf); err != nil {
					return i, err
				}
				if err := sc.WriteOutput("out", buf, strideSize); err != nil {
					return i, err
				}
				pos += strideSize
				if err := sc.ReleaseInput("in", pos); err != nil {
					return i, err
				}
			}
			return strides, nil
		},
	}
}

// NewByteSink returns a KindSink kernel that appends every consumed item
// into collected, for test and example inspection.
func NewByteSink(name, streamSet string, strideSize uint64, collected *[]byte) *flowforge.KernelDescriptor {
	buf := make([]byte, strideSize)
	var pos uint64
	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSink,
		StrideSize: strideSize,
		Inputs: []flowforge.Binding{
			{Name: "in", StreamSet: streamSet, Rate: flowforge.Greedy(0)},
		},
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			bounds := sc.Bounds()
			n := bounds.Accessible
			if n == 0 {
				return 0, nil
			}
			if n > strideSize*strides {
				n = strideSize * strides
			}
			if uint64(len(buf)) < n {
				buf = make([]byte, n)
			}
			if err := sc.ReadInput("in", pos, n, buf[:n]); err != nil {
				return 0, err
			}
			*collected = append(*collected, buf[:n]...)
			pos += n
			if err := sc.ReleaseInput("in", pos); err != nil {
				return 0, err
			}
			return strides, nil
		},
		Attributes: func() flowforge.AttributeSet {
			a := flowforge.AttributeSet{}
			a.Set(flowforge.AttrCanModifySegmentLength)
			return a
		}(),
	}
}

// wordSize is the item size, in bytes, of a pop-count kernel's input
// stream-set: one little-endian uint64 word per item.
const wordSize = 8

// NewPopCount returns a KindSegment kernel that reduces a stream of 64-bit
// words into a running population count, written one uint64 per stride to
// its output stream-set -- a direct analogue of the original system's
// pop-count-over-bitstream idiom (property objects summed across a UCD
// bitstream), reduced here to plain words since no bitstream-compression
// transducer is in scope.
func NewPopCount(name, inStreamSet, outStreamSet string) *flowforge.KernelDescriptor {
	var pos uint64
	var running uint64
	raw := make([]byte, wordSize)
	out := make([]byte, wordSize)

	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSegment,
		StrideSize: wordSize,
		Inputs: []flowforge.Binding{
			{Name: "in", StreamSet: inStreamSet, Rate: flowforge.Fixed(wordSize)},
		},
		Outputs: []flowforge.Binding{
			{Name: "count", StreamSet: outStreamSet, Rate: flowforge.Fixed(wordSize)},
		},
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			for i := uint64(0); i < strides; i++ {
				if err := sc.ReadInput("in", pos, wordSize, raw); err != nil {
					return i, err
				}
				word := binary.LittleEndian.Uint64(raw)
				running += uint64(bits.OnesCount64(word))
				binary.LittleEndian.PutUint64(out, running)
				if err := sc.WriteOutput("count", out, wordSize); err != nil {
					return i, err
				}
				pos += wordSize
				if err := sc.ReleaseInput("in", pos); err != nil {
					return i, err
				}
			}
			return strides, nil
		},
	}
}

// NewPartialSumConsumer returns a KindSink kernel whose input binding is
// rate-bound to a reference partial-sum stream: it consumes exactly as many
// items of the primary stream-set as the reference stream's running total
// currently permits, the canonical use of RatePartialSum (a variable-length
// record stream bounded by an index of cumulative record lengths).
func NewPartialSumConsumer(name, primaryStreamSet, referenceStreamSet string, collected *[]byte) *flowforge.KernelDescriptor {
	var posPrimary, posReference uint64
	buf := make([]byte, 0, 64)
	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSink,
		StrideSize: 1,
		Inputs: []flowforge.Binding{
			{Name: "primary", StreamSet: primaryStreamSet, Rate: flowforge.PartialSum("reference")},
			{Name: "reference", StreamSet: referenceStreamSet, Rate: flowforge.Fixed(wordSize)},
		},
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			bounds := sc.Bounds()
			n := bounds.Accessible
			if n == 0 || strides == 0 {
				return 0, nil
			}
			if uint64(cap(buf)) < n {
				buf = make([]byte, n)
			}
			if err := sc.ReadInput("primary", posPrimary, n, buf[:n]); err != nil {
				return 0, err
			}
			*collected = append(*collected, buf[:n]...)
			posPrimary += n
			if err := sc.ReleaseInput("primary", posPrimary); err != nil {
				return 0, err
			}
			posReference += strides * wordSize
			if err := sc.ReleaseInput("reference", posReference); err != nil {
				return 0, err
			}
			return strides, nil
		},
	}
}

// NewDoubler returns a KindSegment kernel that writes every input byte twice,
// declaring a Fixed(1) input rate against a Bounded(0,2) output rate: a
// minimal demonstration of a kernel whose output volume per stride varies
// within a declared range rather than matching its input 1:1.
func NewDoubler(name, inStreamSet, outStreamSet string) *flowforge.KernelDescriptor {
	in := make([]byte, 1)
	out := make([]byte, 2)
	var pos uint64
	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSegment,
		StrideSize: 1,
		Inputs: []flowforge.Binding{
			{Name: "in", StreamSet: inStreamSet, Rate: flowforge.Fixed(1)},
		},
		Outputs: []flowforge.Binding{
			{Name: "out", StreamSet: outStreamSet, Rate: flowforge.Bounded(0, 2)},
		},
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			for i := uint64(0); i < strides; i++ {
				if err := sc.ReadInput("in", pos, 1, in); err != nil {
					return i, err
				}
				out[0], out[1] = in[0], in[0]
				if err := sc.WriteOutput("out", out, 2); err != nil {
					return i, err
				}
				pos++
				if err := sc.ReleaseInput("in", pos); err != nil {
					return i, err
				}
			}
			return strides, nil
		},
	}
}

// NewZeroExtendedMerge returns a KindSegment kernel that XORs a long
// stream-set against a short one byte-for-byte, the short input's binding
// carrying AttrZeroExtended so that once the short stream's producer stops,
// further reads of it are satisfied with zeros rather than stalling the
// kernel -- the long stream continues to determine the segment's stride
// count and passes through unchanged once the short stream is exhausted.
func NewZeroExtendedMerge(name, longStreamSet, shortStreamSet, outStreamSet string) *flowforge.KernelDescriptor {
	longBuf := make([]byte, 1)
	shortBuf := make([]byte, 1)
	out := make([]byte, 1)
	var longPos, shortPos uint64
	shortAttrs := flowforge.AttributeSet{}
	shortAttrs.Set(flowforge.AttrZeroExtended)

	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSegment,
		StrideSize: 1,
		Inputs: []flowforge.Binding{
			{Name: "long", StreamSet: longStreamSet, Rate: flowforge.Fixed(1)},
			{Name: "short", StreamSet: shortStreamSet, Rate: flowforge.Fixed(1), Attributes: shortAttrs},
		},
		Outputs: []flowforge.Binding{
			{Name: "out", StreamSet: outStreamSet, Rate: flowforge.Fixed(1)},
		},
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			for i := uint64(0); i < strides; i++ {
				if err := sc.ReadInput("long", longPos, 1, longBuf); err != nil {
					return i, err
				}
				if err := sc.ReadInput("short", shortPos, 1, shortBuf); err != nil {
					return i, err
				}
				out[0] = longBuf[0] ^ shortBuf[0]
				if err := sc.WriteOutput("out", out, 1); err != nil {
					return i, err
				}
				longPos++
				shortPos++
				if err := sc.ReleaseInput("long", longPos); err != nil {
					return i, err
				}
				if err := sc.ReleaseInput("short", shortPos); err != nil {
					return i, err
				}
			}
			return strides, nil
		},
	}
}

// NewCumulativeLengthSource returns a KindSource kernel that emits the
// little-endian uint64 encoding of the running total of recordLengths[0..i],
// the cumulative-length index a RatePartialSum binding searches against. It
// feeds the reference side of NewPartialSumConsumer.
//
// The whole index is produced as a single stride rather than one word per
// stride: a partial-sum consumer needs the complete index available to
// search before it can safely commit to any record boundary, so trickling it
// out over many segments would only stall the consumer on transient,
// not-actually-final zero-progress rounds.
func NewCumulativeLengthSource(name, streamSet string, recordLengths []uint64) *flowforge.KernelDescriptor {
	data := make([]byte, len(recordLengths)*wordSize)
	var running uint64
	for i, n := range recordLengths {
		running += n
		binary.LittleEndian.PutUint64(data[i*wordSize:i*wordSize+wordSize], running)
	}
	var pos uint64
	strideSize := uint64(len(data))
	if strideSize == 0 {
		strideSize = wordSize
	}

	return &flowforge.KernelDescriptor{
		Name:       name,
		Kind:       flowforge.KindSource,
		StrideSize: strideSize,
		Outputs: []flowforge.Binding{
			{Name: "out", StreamSet: streamSet, Rate: flowforge.Unknown()},
		},
		Attributes: func() flowforge.AttributeSet {
			a := flowforge.AttributeSet{}
			a.Set(flowforge.AttrCanModifySegmentLength)
			return a
		}(),
		CanTerminateEarly: true,
		Body: func(sc *flowforge.SegmentContext, strides uint64) (uint64, error) {
			remaining := uint64(len(data)) - pos
			want := strides * strideSize
			n := want
			if remaining < n {
				n = remaining
			}
			if n == 0 {
				return 0, nil
			}
			if err := sc.WriteOutput("out", data[pos:pos+n], n); err != nil {
				return 0, err
			}
			pos += n
			return 1, nil
		},
	}
}

// DescribeFinalCounts renders a pop-count kernel's running totals as a
// one-line summary, for an example's closing printout.
func DescribeFinalCounts(name string, counts []uint64) string {
	return fmt.Sprintf("%s: %d strides, final count %d", name, len(counts), lastOrZero(counts))
}

func lastOrZero(counts []uint64) uint64 {
	if len(counts) == 0 {
		return 0
	}
	return counts[len(counts)-1]
}
