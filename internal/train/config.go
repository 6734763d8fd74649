package train

import (
	"errors"
	"fmt"
)

// Config drives a training run. Field names follow the Hugging Face
// TrainingArguments keys where one exists.
type Config struct {
	Epochs            int     `yaml:"num_train_epochs" json:"num_train_epochs"`
	BatchSize         int     `yaml:"per_device_train_batch_size" json:"per_device_train_batch_size"`
	AccumulationSteps int     `yaml:"gradient_accumulation_steps" json:"gradient_accumulation_steps"`
	LearningRate      float64 `yaml:"learning_rate" json:"learning_rate"`
	WeightDecay       float64 `yaml:"weight_decay" json:"weight_decay"`
	Beta1             float64 `yaml:"adam_beta1" json:"adam_beta1"`
	Beta2             float64 `yaml:"adam_beta2" json:"adam_beta2"`
	Epsilon           float64 `yaml:"adam_epsilon" json:"adam_epsilon"`
	WarmupRatio       float64 `yaml:"warmup_ratio" json:"warmup_ratio"`
	// MaxGradNorm bounds the global gradient norm before each optimizer
	// step. Zero disables clipping.
	MaxGradNorm float64 `yaml:"max_grad_norm" json:"max_grad_norm"`
	Seed        int64   `yaml:"seed" json:"seed"`
	MaxLength   int     `yaml:"max_length" json:"max_length"`
	// LogEvery logs every Nth optimizer step.
	LogEvery int  `yaml:"logging_steps" json:"logging_steps"`
	DropLast bool `yaml:"dataloader_drop_last" json:"dataloader_drop_last"`
}

func DefaultConfig() Config {
	return Config{
		Epochs:            7,
		BatchSize:         1,
		AccumulationSteps: 2,
		LearningRate:      1e-6,
		WeightDecay:       0.01,
		Beta1:             0.9,
		Beta2:             0.999,
		Epsilon:           1e-8,
		WarmupRatio:       0.1,
		Seed:              42,
		MaxLength:         1024,
		LogEvery:          1,
		DropLast:          true,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("train: epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("train: batch size must be positive, got %d", c.BatchSize)
	case c.AccumulationSteps <= 0:
		return fmt.Errorf("train: gradient accumulation steps must be positive, got %d", c.AccumulationSteps)
	case c.LearningRate <= 0:
		return fmt.Errorf("train: learning rate must be positive, got %g", c.LearningRate)
	case c.WeightDecay < 0:
		return errors.New("train: weight decay must not be negative")
	case c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1:
		return errors.New("train: adam betas must be in [0, 1)")
	case c.Epsilon <= 0:
		return errors.New("train: adam epsilon must be positive")
	case c.WarmupRatio < 0 || c.WarmupRatio > 1:
		return fmt.Errorf("train: warmup ratio must be in [0, 1], got %g", c.WarmupRatio)
	case c.MaxGradNorm < 0:
		return errors.New("train: max grad norm must not be negative")
	}
	return nil
}

// TotalSteps is the number of optimizer steps over the whole run given the
// number of batches per epoch.
func (c Config) TotalSteps(batchesPerEpoch int) int {
	perEpoch := (batchesPerEpoch + c.AccumulationSteps - 1) / c.AccumulationSteps
	return perEpoch * c.Epochs
}

// WarmupSteps truncates WarmupRatio * total.
func (c Config) WarmupSteps(total int) int {
	return int(c.WarmupRatio * float64(total))
}
