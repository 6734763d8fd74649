// Package train runs the fine-tuning loop: accumulation, optimizer and
// schedule steps, and the divergence guard.
package train

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/samcharles93/tuner/internal/autograd"
	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/task"
)

// LossComputer returns the scalar loss of a single-type batch.
type LossComputer interface {
	ComputeLoss(ctx context.Context, batch task.Batch) (*autograd.Tensor, error)
}

// StepEvent describes one optimizer step.
type StepEvent struct {
	Epoch         int
	Step          int
	OptimizerStep int
	Loss          float64
	LearningRate  float64
	GradNorm      float64
}

// Loop drives training over a ModelState. A Loop runs once.
type Loop struct {
	cfg    Config
	model  *ModelState
	engine LossComputer
	log    logger.Logger
	dev    device.Device
	onStep func(StepEvent)

	params []backbone.NamedParam
	phase  Phase
	opt    *AdamW
	sched  *LinearSchedule
}

// Option configures a Loop.
type Option func(*Loop)

func WithLogger(l logger.Logger) Option {
	return func(lp *Loop) { lp.log = l }
}

// WithDevice sets the device whose cache is released after each optimizer
// step. Defaults to the host.
func WithDevice(d device.Device) Option {
	return func(lp *Loop) { lp.dev = d }
}

// WithStepHook calls fn after every optimizer step that passed the
// divergence check.
func WithStepHook(fn func(StepEvent)) Option {
	return func(lp *Loop) { lp.onStep = fn }
}

func NewLoop(cfg Config, model *ModelState, engine LossComputer, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:    cfg,
		model:  model,
		engine: engine,
		log:    logger.Discard(),
		dev:    device.Host{},
		phase:  Idle,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.params = model.Trainable()
	if len(l.params) == 0 {
		return nil, ErrNothingToTrain
	}
	return l, nil
}

// Phase reports where the loop currently is.
func (l *Loop) Phase() Phase { return l.phase }

// window tracks the passes since the last optimizer step.
type window struct {
	passes    int
	lastLoss  float64
	nonFinite bool
	badLoss   float64
}

// Run trains on dataset for the configured number of epochs. The returned
// state is non-nil even on error and reflects progress so far. Context
// cancellation is checked between batches.
func (l *Loop) Run(ctx context.Context, dataset []task.Record) (*State, error) {
	st := &State{}
	if l.phase != Idle || l.opt != nil {
		return st, fmt.Errorf("%w: loop already ran", ErrIllegalTransition)
	}
	batcher := task.NewBatcher(dataset, l.cfg.BatchSize, l.cfg.Seed, l.cfg.DropLast)
	perEpoch := batcher.Len()
	if perEpoch == 0 {
		return st, ErrEmptyDataset
	}
	total := l.cfg.TotalSteps(perEpoch)
	warmup := l.cfg.WarmupSteps(total)
	l.opt = NewAdamW(l.params, l.cfg)
	l.sched = NewLinearSchedule(l.opt, l.cfg.LearningRate, warmup, total)
	l.opt.ZeroGrad()

	trainable := 0
	for _, p := range l.params {
		trainable += p.Tensor.Value.Len()
	}
	l.log.Info("training started",
		"records", len(dataset),
		"batches_per_epoch", perEpoch,
		"optimizer_steps", total,
		"warmup_steps", warmup,
		"trainable_params", trainable,
		"device", l.dev.Name(),
	)

	start := time.Now()
	scale := float32(1) / float32(l.cfg.AccumulationSteps)
	for epoch := 0; epoch < l.cfg.Epochs; epoch++ {
		st.Epoch = epoch
		st.AccumulatedLoss = 0
		var win window
		for _, batch := range batcher.Epoch(epoch) {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			if err := l.transition(Forward); err != nil {
				return st, err
			}
			loss, err := l.engine.ComputeLoss(ctx, batch)
			if err != nil {
				return st, fmt.Errorf("train: epoch %d step %d: %w", epoch+1, st.Step+1, err)
			}
			value := float64(loss.Item())
			st.Step++
			st.AccumulatedLoss += value
			win.passes++
			win.lastLoss = value
			if !isFinite(value) && !win.nonFinite {
				win.nonFinite = true
				win.badLoss = value
			}

			if err := l.transition(Backward); err != nil {
				return st, err
			}
			if loss.RequiresGrad() {
				if err := autograd.Backward(autograd.Scale(loss, scale)); err != nil {
					return st, fmt.Errorf("train: backward at step %d: %w", st.Step, err)
				}
			}

			if win.passes < l.cfg.AccumulationSteps {
				if err := l.transition(Accumulating); err != nil {
					return st, err
				}
				if err := l.transition(Idle); err != nil {
					return st, err
				}
				continue
			}
			if err := l.step(st, &win); err != nil {
				return st, err
			}
		}
		if win.passes > 0 {
			if err := l.step(st, &win); err != nil {
				return st, err
			}
		}
		if err := st.Record(epoch, st.AccumulatedLoss); err != nil {
			return st, err
		}
		l.log.Info("epoch finished", "epoch", epoch+1, "loss", st.AccumulatedLoss, "elapsed", time.Since(start))
	}

	if err := l.transition(Finished); err != nil {
		return st, err
	}
	st.Finish()
	l.log.Info("training finished", "optimizer_steps", st.OptimizerSteps, "elapsed", time.Since(start))
	return st, nil
}

// step applies one optimizer update for the current window and runs the
// divergence guard before gradients are cleared.
func (l *Loop) step(st *State, win *window) error {
	if err := l.transition(Stepped); err != nil {
		return err
	}
	norm := GradNorm(l.params)
	if l.cfg.MaxGradNorm > 0 {
		ClipGradNorm(l.params, l.cfg.MaxGradNorm)
	}
	lr := l.opt.LR()
	l.opt.Step()
	l.sched.Step()
	st.OptimizerSteps++
	st.LearningRate = l.opt.LR()

	if win.nonFinite {
		derr := &DivergedError{
			Epoch:         st.Epoch,
			Step:          st.Step,
			OptimizerStep: st.OptimizerSteps,
			Loss:          win.badLoss,
			Params:        NonFiniteGrads(l.params),
		}
		if err := l.transition(Diverged); err != nil {
			return err
		}
		l.log.Error("non-finite loss", "epoch", st.Epoch+1, "step", st.Step, "loss", win.badLoss, "params", derr.Params)
		return derr
	}

	l.opt.ZeroGrad()
	l.dev.EmptyCache()

	ev := StepEvent{
		Epoch:         st.Epoch,
		Step:          st.Step,
		OptimizerStep: st.OptimizerSteps,
		Loss:          win.lastLoss,
		LearningRate:  lr,
		GradNorm:      norm,
	}
	if l.cfg.LogEvery > 0 && st.OptimizerSteps%l.cfg.LogEvery == 0 {
		l.log.Info("optimizer step",
			"epoch", ev.Epoch+1,
			"step", ev.Step,
			"loss", ev.Loss,
			"lr", ev.LearningRate,
			"grad_norm", ev.GradNorm,
		)
	}
	if l.onStep != nil {
		l.onStep(ev)
	}
	*win = window{}
	return l.transition(Idle)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
