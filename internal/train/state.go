package train

import (
	"fmt"

	"github.com/samcharles93/tuner/internal/backbone"
	"github.com/samcharles93/tuner/internal/head"
	"github.com/samcharles93/tuner/internal/lora"
)

// EpochLoss is the summed unscaled loss of one epoch.
type EpochLoss struct {
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
}

// State is the progress of a run. It is created by Loop.Run and frozen by
// Finish once the run completes.
type State struct {
	Epoch           int         `json:"epoch"`
	Step            int         `json:"step"`
	OptimizerSteps  int         `json:"optimizer_steps"`
	AccumulatedLoss float64     `json:"accumulated_loss"`
	LearningRate    float64     `json:"learning_rate"`
	History         []EpochLoss `json:"history"`

	finished bool
}

// Record appends an epoch total to the history.
func (s *State) Record(epoch int, loss float64) error {
	if s.finished {
		return ErrStateFinished
	}
	s.History = append(s.History, EpochLoss{Epoch: epoch, Loss: loss})
	return nil
}

// Finish freezes the history. Later calls to Record fail.
func (s *State) Finish() { s.finished = true }

func (s *State) Finished() bool { return s.finished }

// ModelState is the set of weights a run trains: the backbone, an optional
// LoRA adapter and the choice head. Transitions return new states and
// leave the receiver unchanged.
type ModelState struct {
	Backbone backbone.Adaptable
	Adapter  *lora.Adapted
	Head     *head.Linear
}

func NewModelState(m backbone.Adaptable, h *head.Linear) *ModelState {
	return &ModelState{Backbone: m, Head: h}
}

// AttachAdapter freezes a copy of the backbone and adds LoRA deltas to it.
// The head is copied and stays trainable.
func (s *ModelState) AttachAdapter(cfg lora.Config) (*ModelState, error) {
	if s.Adapter != nil {
		return nil, ErrAdapterAttached
	}
	ad, err := lora.Attach(s.Backbone, cfg)
	if err != nil {
		return nil, fmt.Errorf("train: attach adapter: %w", err)
	}
	return &ModelState{Backbone: s.Backbone, Adapter: ad, Head: s.cloneHead()}, nil
}

// MergeAdapter folds the adapter into the backbone weights and drops it.
func (s *ModelState) MergeAdapter() (*ModelState, error) {
	if s.Adapter == nil {
		return nil, ErrNoAdapter
	}
	return &ModelState{Backbone: s.Adapter.Merge(), Head: s.cloneHead()}, nil
}

func (s *ModelState) cloneHead() *head.Linear {
	if s.Head == nil {
		return nil
	}
	return s.Head.Clone()
}

// Model is the network the loss is computed against.
func (s *ModelState) Model() backbone.Model {
	if s.Adapter != nil {
		return s.Adapter
	}
	return s.Backbone
}

// Parameters lists model then head parameters.
func (s *ModelState) Parameters() []backbone.NamedParam {
	params := s.Model().Parameters()
	if s.Head != nil {
		params = append(params, s.Head.Parameters()...)
	}
	return params
}

// Trainable lists the parameters the optimizer updates. With an adapter
// attached that is exactly the adapter matrices and the head.
func (s *ModelState) Trainable() []backbone.NamedParam {
	return backbone.Trainable(s.Parameters())
}
