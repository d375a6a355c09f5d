// Package vmstat holds atomic accounting counters for the virtual-memory
// subsystem, readable without locking the subsystem they describe.
package vmstat

import "sync/atomic"

// Counters tracks fault and eviction activity across the whole VM
// subsystem. Every field is accessed only through atomic operations, so a
// Counters value may be shared and read concurrently with the faults it
// is counting.
type Counters struct {
	faults     uint64
	evictions  uint64
	swapIns    uint64
	swapOuts   uint64
	stackGrows uint64
}

func (c *Counters) Fault()      { atomic.AddUint64(&c.faults, 1) }
func (c *Counters) Evict()      { atomic.AddUint64(&c.evictions, 1) }
func (c *Counters) SwapIn()     { atomic.AddUint64(&c.swapIns, 1) }
func (c *Counters) SwapOut()    { atomic.AddUint64(&c.swapOuts, 1) }
func (c *Counters) StackGrow()  { atomic.AddUint64(&c.stackGrows, 1) }

func (c *Counters) Faults() uint64     { return atomic.LoadUint64(&c.faults) }
func (c *Counters) Evictions() uint64  { return atomic.LoadUint64(&c.evictions) }
func (c *Counters) SwapIns() uint64    { return atomic.LoadUint64(&c.swapIns) }
func (c *Counters) SwapOuts() uint64   { return atomic.LoadUint64(&c.swapOuts) }
func (c *Counters) StackGrows() uint64 { return atomic.LoadUint64(&c.stackGrows) }
