// Package prompt renders task records into model prompts.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/tuner/internal/task"
)

var ErrMissingChoices = errors.New("prompt: choice record has no choices")

// Sample is a rendered prompt and the text the model should produce.
type Sample struct {
	Prompt string
	Answer string
}

// TemplateSet holds one template per task type. Choice and Math templates
// use the {Question}, {A}, {B}, {C} and {D} fields. The generate templates
// are instructions the record prompt is appended to verbatim.
type TemplateSet struct {
	Choice          string
	CodeGenerate    string
	GenericGenerate string
	Math            string
}

// TrainingTemplates are the prompts the model is fine-tuned on.
var TrainingTemplates = TemplateSet{
	Choice: "Answer the following multiple choice question. The last line of your response should be of the " +
		"form 'Answer: $LETTER' where LETTER is one of ABCD. Think step by step before answering.\n\n" +
		"{Question}\n\n" +
		"A) {A}\nB) {B}\nC) {C}\nD) {D}",
	CodeGenerate: "Read the following function signature and docstring, and fully implement the function. " +
		"Your response should only contain the code for this function.\n",
	GenericGenerate: "You will be asked to read a passage and answer a question. Think step by step, then write a line " +
		"of the form 'Answer: $ANSWER' at the end of your response.",
	Math: "Solve the following math problem step by step. The last line should be 'Answer: $ANSWER'.\n\n" +
		"{Question}",
}

// EvalTemplates are the prompts used when generating answers from a merged
// model.
var EvalTemplates = TemplateSet{
	Choice: "Answer the following multiple choice question. The last line of your response should be of the " +
		"following format: 'Answer: $LETTER' (without quotes) where LETTER is one of ABCD. Think step by step " +
		"before answering.\n\n{Question}\n\nA) {A}\nB) {B}\nC) {C}\nD) {D}",
	CodeGenerate: "Read the following function signature and docstring, and fully implement the function " +
		"described. Your response should only contain the code for this function.\n",
	GenericGenerate: TrainingTemplates.GenericGenerate,
	Math: "Solve the following math problem step by step. The last line of your response should be of the form " +
		"Answer: $ANSWER (without quotes) where $ANSWER is the answer to the problem.\n\n{Question}\n\n" +
		"Remember to put your answer on its own line after 'Answer:', and you do need to use a \\boxed command.",
}

// Builder renders records with a fixed template set. It holds no mutable
// state and is safe for concurrent use.
type Builder struct {
	templates TemplateSet
}

func NewBuilder(ts TemplateSet) *Builder {
	return &Builder{templates: ts}
}

// Render fills the template for r's type.
func (b *Builder) Render(r task.Record) (Sample, error) {
	var p string
	switch r.Type {
	case task.Choice:
		if r.Choices == nil {
			return Sample{}, fmt.Errorf("%w: %s", ErrMissingChoices, r.ID)
		}
		p = fill(b.templates.Choice,
			"{Question}", r.Prompt,
			"{A}", r.Choices.A,
			"{B}", r.Choices.B,
			"{C}", r.Choices.C,
			"{D}", r.Choices.D,
		)
	case task.Math:
		p = fill(b.templates.Math, "{Question}", r.Prompt)
	case task.CodeGenerate:
		p = b.templates.CodeGenerate + r.Prompt
	case task.GenericGenerate:
		p = b.templates.GenericGenerate + r.Prompt
	default:
		return Sample{}, fmt.Errorf("%w: %v", task.ErrUnknownTaskType, r.Type)
	}
	return Sample{Prompt: p, Answer: r.Answer}, nil
}

// RenderBatch renders every record of b, stopping at the first error.
func (b *Builder) RenderBatch(batch task.Batch) ([]Sample, error) {
	out := make([]Sample, len(batch))
	for i, r := range batch {
		s, err := b.Render(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// fill substitutes fields in a single left-to-right pass, so text inside a
// field value is never treated as another field.
func fill(tpl string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(tpl)
}
