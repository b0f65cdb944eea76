package availability

import "sync/atomic"

// InOutBoundRecord accumulates bytes moved for one server between speed
// samples.
type InOutBoundRecord struct {
	inbound  atomic.Int64
	outbound atomic.Int64
}

func (r *InOutBoundRecord) AddInbound(n int64)  { r.inbound.Add(n) }
func (r *InOutBoundRecord) AddOutbound(n int64) { r.outbound.Add(n) }

// FetchAndReset returns the accumulated counts and zeroes them atomically.
func (r *InOutBoundRecord) FetchAndReset() (inbound, outbound int64) {
	return r.inbound.Swap(0), r.outbound.Swap(0)
}
