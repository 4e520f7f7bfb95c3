package register

import (
	"context"
	"iter"
)

// Scan is a lazy, finite walk over the non-zero slots of one bank.
// Slots are read one at a time as the iteration advances, so a consumer that
// stops early never pays for the rest of the bank.
type Scan struct {
	ctx  context.Context
	gw   Gateway
	bank string
	err  error
}

// ScanNonZero returns a Scan over bank.
func ScanNonZero(ctx context.Context, gw Gateway, bank string) *Scan {
	return &Scan{ctx: ctx, gw: gw, bank: bank}
}

// All yields (index, value) for every slot with value != 0, in index order.
// Iteration stops at the first read failure, which is then reported by Err.
func (s *Scan) All() iter.Seq2[uint32, int64] {
	return func(yield func(uint32, int64) bool) {
		layout := s.gw.Layout()
		if _, ok := layout[s.bank]; !ok {
			s.err = layout.Check("scan", s.bank, 0)
			return
		}
		capacity := layout.Capacity(s.bank)
		for i := uint32(0); i < capacity; i++ {
			if err := s.ctx.Err(); err != nil {
				s.err = err
				return
			}
			v, err := s.gw.Read(s.ctx, s.bank, i)
			if err != nil {
				s.err = err
				return
			}
			if v == 0 {
				continue
			}
			if !yield(i, v) {
				return
			}
		}
	}
}

// Err returns the error that ended the last iteration, if any.
func (s *Scan) Err() error {
	return s.err
}
