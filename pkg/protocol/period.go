package protocol

// Hardware sampling quanta. Periods below QuantumBandSplitUs are programmed
// in fine steps, longer periods in coarse steps.
const (
	QuantumFineUs      uint32 = 500
	QuantumCoarseUs    uint32 = 2500
	QuantumBandSplitUs uint32 = 20000
)

// InfinitePeriod marks a stream that is not requested.
const InfinitePeriod uint32 = 0xFFFFFFFF

// QuantumFor returns the hardware granularity used for a period.
func QuantumFor(periodUs uint32) uint32 {
	if periodUs < QuantumBandSplitUs {
		return QuantumFineUs
	}
	return QuantumCoarseUs
}

// QuantizePeriod rounds periodUs to the nearest supported hardware quantum.
// When the nearest quantum lies above the input, the next lower quantum is
// used so the programmed period never runs slower than requested. The result
// is never below QuantumFineUs.
func QuantizePeriod(periodUs uint32) uint32 {
	if periodUs <= QuantumFineUs {
		return QuantumFineUs
	}
	if periodUs > InfinitePeriod-QuantumCoarseUs {
		periodUs = InfinitePeriod - QuantumCoarseUs
	}
	q := QuantumFor(periodUs)
	rounded := (periodUs + q/2) / q * q
	if rounded > periodUs {
		rounded -= q
	}
	return rounded
}

// IsQuantized reports whether periodUs is a supported hardware period.
func IsQuantized(periodUs uint32) bool {
	if periodUs < QuantumFineUs {
		return false
	}
	return periodUs%QuantumFor(periodUs) == 0
}
