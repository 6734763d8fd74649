// Package task holds the training records of the four task families and
// groups them into single-type batches.
package task

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrUnknownTaskType = errors.New("task: unknown task type")
	ErrMixedBatchType  = errors.New("task: batch mixes task types")
	ErrEmptyBatch      = errors.New("task: empty batch")
	ErrMissingField    = errors.New("task: missing required field")
)

// Type is the task family of a record.
type Type int

const (
	Choice Type = iota + 1
	CodeGenerate
	GenericGenerate
	Math
)

var typeNames = map[Type]string{
	Choice:          "choice",
	CodeGenerate:    "code-generate",
	GenericGenerate: "generic-generate",
	Math:            "math",
}

// Types lists every task type in declaration order.
func Types() []Type {
	return []Type{Choice, CodeGenerate, GenericGenerate, Math}
}

// ParseType maps a wire name to a Type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Valid reports whether t is one of the four task types.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Generative reports whether t is trained with the language-modeling
// objective rather than the classification head.
func (t Type) Generative() bool {
	return t.Valid() && t != Choice
}

func (t Type) MarshalJSON() ([]byte, error) {
	name, ok := typeNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTaskType, int(t))
	}
	return json.Marshal(name)
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("task: type must be a string: %w", err)
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Choices are the four options of a multiple-choice record.
type Choices struct {
	A string `json:"A"`
	B string `json:"B"`
	C string `json:"C"`
	D string `json:"D"`
}

// Record is one line of the training dataset.
type Record struct {
	ID      string   `json:"id"`
	Type    Type     `json:"type"`
	Prompt  string   `json:"prompt"`
	Choices *Choices `json:"choices,omitempty"`
	Answer  string   `json:"answer"`
}

// Validate checks required fields. Answer may be empty for evaluation
// records, so callers pass requireAnswer.
func (r Record) Validate(requireAnswer bool) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id", ErrMissingField)
	case !r.Type.Valid():
		return fmt.Errorf("%w: %v", ErrUnknownTaskType, r.Type)
	case r.Prompt == "":
		return fmt.Errorf("%w: prompt", ErrMissingField)
	case r.Type == Choice && r.Choices == nil:
		return fmt.Errorf("%w: choices", ErrMissingField)
	case requireAnswer && r.Answer == "":
		return fmt.Errorf("%w: answer", ErrMissingField)
	}
	return nil
}

// Batch is an ordered group of records trained in one forward pass.
type Batch []Record

// Type returns the task type shared by every record.
func (b Batch) Type() (Type, error) {
	if len(b) == 0 {
		return 0, ErrEmptyBatch
	}
	t := b[0].Type
	for i, r := range b[1:] {
		if r.Type != t {
			return 0, fmt.Errorf("%w: record %d is %v, record 0 is %v", ErrMixedBatchType, i+1, r.Type, t)
		}
	}
	return t, nil
}

// Validate rejects empty and mixed batches.
func (b Batch) Validate() error {
	_, err := b.Type()
	return err
}
