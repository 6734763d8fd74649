package train

// LinearSchedule warms the learning rate up linearly from zero over the
// first warmup steps, then decays it linearly to zero at total.
type LinearSchedule struct {
	opt    *AdamW
	base   float64
	warmup int
	total  int
	step   int
}

// NewLinearSchedule sets the optimizer's rate for step zero.
func NewLinearSchedule(opt *AdamW, base float64, warmup, total int) *LinearSchedule {
	s := &LinearSchedule{opt: opt, base: base, warmup: warmup, total: total}
	opt.SetLR(s.rate(0))
	return s
}

// Step advances one optimizer step and updates the optimizer's rate.
func (s *LinearSchedule) Step() {
	s.step++
	s.opt.SetLR(s.rate(s.step))
}

func (s *LinearSchedule) rate(step int) float64 {
	if step < s.warmup {
		return s.base * float64(step) / float64(max(1, s.warmup))
	}
	f := float64(s.total-step) / float64(max(1, s.total-s.warmup))
	return s.base * max(0, f)
}
