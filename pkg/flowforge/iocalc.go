package flowforge

import "sort"

// IOBounds is the result of the I/O calculator's per-binding, per-segment
// analysis: how many items of a stream-set are accessible to a consumer (or
// writable by a producer) at the current segment boundary, in terms of the
// declared ProcessingRate and the kernel's stride count for this segment.
type IOBounds struct {
	Accessible uint64
	Writable   uint64

	// StrideCount is the number of strides the kernel may safely execute
	// given every one of its bindings' bounds -- the minimum over all
	// inputs' accessible-item-derived stride counts and all outputs'
	// writable-item-derived stride counts.
	StrideCount uint64

	// Final marks a stride count smaller than the nominal repetition count
	// because an upstream source is nearing (or has reached) termination;
	// this must always be evaluated, even when nothing is obviously amiss,
	// since a source can exhaust mid-segment.
	Final bool
}

// accessibleItems returns how many items of an input binding are available
// to read, given the number already produced upstream and already consumed
// by this binding.
func accessibleItems(produced, consumed uint64) uint64 {
	if produced < consumed {
		return 0
	}
	return produced - consumed
}

// writableItems returns how many items of an output binding may be written
// before the feeding buffer's capacity (for a fixed buffer) would be
// exceeded, given the consumer furthest behind.
func writableItems(capacity, produced, slowestConsumed uint64) uint64 {
	unconsumed := produced - slowestConsumed
	if unconsumed >= capacity {
		return 0
	}
	return capacity - unconsumed
}

// strideCountForRate derives the number of whole strides a binding's
// declared rate permits given n accessible-or-writable items this segment.
func strideCountForRate(rate ProcessingRate, n uint64) uint64 {
	switch rate.Kind {
	case RateFixed:
		if rate.Hi == 0 {
			return 0
		}
		return n / rate.Hi
	case RateBounded:
		if rate.Hi == 0 {
			return 0
		}
		return n / rate.Hi
	case RateGreedy:
		if n == 0 {
			return 0
		}
		return 1 // otherwise a greedy binding never limits stride count; it just consumes what's offered
	case RateUnknown:
		return 1
	default:
		return 0
	}
}

// ComputeIOBounds derives the IOBounds for a kernel given, per input
// binding, the producer's produced/consumed counters, and per output
// binding, the feeding buffer's capacity/produced/slowest-consumer counters.
// strideLimit caps the result at the repetition-vector-derived count this
// segment (e.g. from schedule_partition.go's RepetitionVector), so a kernel
// never runs more strides than the schedule assigned it even if its own
// buffers could support more.
func ComputeIOBounds(k *KernelDescriptor, inputCounters map[string][2]uint64, outputCounters map[string][3]uint64, strideLimit uint64) IOBounds {
	return computeIOBounds(k, inputCounters, outputCounters, nil, strideLimit)
}

// ComputeIOBoundsWithReferences is ComputeIOBounds extended with decoded
// partial-sum reference streams: partialSumReferences maps a RatePartialSum
// input binding's name to the cumulative-length values currently accessible
// on its reference stream-set, needed to binary-search the largest prefix of
// the primary stream-set this segment may safely consume.
func ComputeIOBoundsWithReferences(k *KernelDescriptor, inputCounters map[string][2]uint64, outputCounters map[string][3]uint64, partialSumReferences map[string][]uint64, strideLimit uint64) IOBounds {
	return computeIOBounds(k, inputCounters, outputCounters, partialSumReferences, strideLimit)
}

func computeIOBounds(k *KernelDescriptor, inputCounters map[string][2]uint64, outputCounters map[string][3]uint64, partialSumReferences map[string][]uint64, strideLimit uint64) IOBounds {
	strides := strideLimit
	var minAccessible, minWritable uint64 = 0, 0
	first := true

	referencedByPartialSum := make(map[string]bool)
	for _, b := range k.Inputs {
		if b.Rate.Kind == RatePartialSum && b.Rate.Reference != "" {
			referencedByPartialSum[b.Rate.Reference] = true
		}
	}

	for _, b := range k.Inputs {
		c, ok := inputCounters[b.Name]
		if !ok {
			continue
		}
		if b.Attributes.Has(AttrZeroExtended) {
			// A zero-extended binding never constrains stride count or the
			// reported accessible-item minimum: its reads beyond the
			// producer's final count are satisfied with zeros rather than
			// stalling the kernel.
			continue
		}
		if referencedByPartialSum[b.Name] {
			// This binding's role is purely to supply the cumulative-length
			// index another binding's RatePartialSum rate searches; its own
			// raw accessible-item count already feeds that search via
			// partialSumReferences and must not additionally constrain
			// strides or bounds.Accessible through the generic path below.
			continue
		}
		if b.Rate.Kind == RatePartialSum {
			// Reference values are cumulative from stream start, while c[0]
			// (produced) is the primary stream's own absolute write position,
			// so they compare directly; c[1] (consumed) converts the matched
			// reference value back into "items available to read right now".
			//
			// The stride count this binding permits is the number of NEW
			// whole records that have become available since the last
			// release, not the total record count since stream start: a
			// kernel may already have fully consumed every record the
			// reference stream has indexed so far, in which case zero new
			// records are available this segment even though more will
			// arrive in a later one once the reference stream's own
			// producer catches up -- conflating the two would mark this
			// kernel Final (and therefore done forever) on what is really
			// just a transient stall.
			refs := partialSumReferences[b.Name]
			produced, consumed := c[0], c[1]
			idxTotal := partialSumUpperBound(refs, produced)
			idxConsumed := partialSumUpperBound(refs, consumed)
			var thisAccessible uint64
			if idxTotal >= 0 {
				refVal := refs[idxTotal]
				if refVal > consumed {
					thisAccessible = refVal - consumed
				}
			}
			var sc uint64
			if newRecords := idxTotal - idxConsumed; newRecords > 0 {
				sc = uint64(newRecords)
			}
			if first || thisAccessible < minAccessible {
				minAccessible = thisAccessible
			}
			first = false
			if sc < strides {
				strides = sc
			}
			continue
		}
		acc := accessibleItems(c[0], c[1])
		if first || acc < minAccessible {
			minAccessible = acc
		}
		first = false
		if sc := strideCountForRate(b.Rate, acc); sc < strides {
			strides = sc
		}
	}
	// Only an input shortfall marks the stride count final; an output that
	// is merely full for now limits strides without ending the kernel.
	inputStrides := strides
	first = true
	for _, b := range k.Outputs {
		c, ok := outputCounters[b.Name]
		if !ok {
			continue
		}
		wr := writableItems(c[0], c[1], c[2])
		if first || wr < minWritable {
			minWritable = wr
		}
		first = false
		if sc := strideCountForRate(b.Rate, wr); sc < strides {
			strides = sc
		}
	}

	final := inputStrides < strideLimit
	return IOBounds{Accessible: minAccessible, Writable: minWritable, StrideCount: strides, Final: final}
}

// partialSumUpperBound performs a binary search over a monotonically
// increasing partial-sum reference stream to find the largest index i such
// that reference[i] <= limit, used when a binding's rate is RatePartialSum:
// the number of items consumable from the primary stream-set is
// reference[i] for the largest such i.
func partialSumUpperBound(reference []uint64, limit uint64) int {
	return sort.Search(len(reference), func(i int) bool { return reference[i] > limit }) - 1
}

// Add returns n plus the Add attribute's extra reserved items, used when
// computing the true buffer footprint a binding requires beyond its
// declared rate (extra look-ahead space the kernel reserves but never
// reports as consumed).
func Add(n uint64, attrs AttributeSet) uint64 {
	if extra := attrs.Param(AttrAdd); extra > 0 {
		return n + uint64(extra)
	}
	return n
}

// Truncate caps n at limit.
func Truncate(n, limit uint64) uint64 {
	if n > limit {
		return limit
	}
	return n
}

// RoundUpTo rounds n up to the nearest multiple of m (m must be non-zero).
func RoundUpTo(n, m uint64) uint64 {
	if m == 0 {
		return n
	}
	if rem := n % m; rem != 0 {
		return n + (m - rem)
	}
	return n
}

// BlockSize returns the binding's AttrBlockSize alignment, or 1 if unset.
func BlockSize(attrs AttributeSet) uint64 {
	if bs := attrs.Param(AttrBlockSize); bs > 0 {
		return uint64(bs)
	}
	return 1
}
