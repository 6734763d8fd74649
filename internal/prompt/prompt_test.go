package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/samcharles93/tuner/internal/task"
)

var choiceRecord = task.Record{
	ID:      "c1",
	Type:    task.Choice,
	Prompt:  "Which is a prime?",
	Choices: &task.Choices{A: "4", B: "6", C: "7", D: "{A}"},
	Answer:  "C",
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	b := NewBuilder(TrainingTemplates)
	recs := []task.Record{
		choiceRecord,
		{ID: "m", Type: task.Math, Prompt: "2+2=?", Answer: "Answer: 4"},
		{ID: "g", Type: task.GenericGenerate, Prompt: "passage", Answer: "x"},
		{ID: "k", Type: task.CodeGenerate, Prompt: "def f():", Answer: "return 1"},
	}
	for _, r := range recs {
		first, err := b.Render(r)
		if err != nil {
			t.Fatalf("%s: %v", r.ID, err)
		}
		second, err := b.Render(r)
		if err != nil {
			t.Fatalf("%s: %v", r.ID, err)
		}
		if first != second {
			t.Fatalf("%s: render differs between calls", r.ID)
		}
		if first.Answer != r.Answer {
			t.Fatalf("%s: answer got %q want %q", r.ID, first.Answer, r.Answer)
		}
	}
}

func TestRenderChoice(t *testing.T) {
	t.Parallel()

	s, err := NewBuilder(TrainingTemplates).Render(choiceRecord)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Which is a prime?\n\nA) 4\nB) 6\nC) 7\nD) {A}"
	if !strings.HasSuffix(s.Prompt, want) {
		t.Fatalf("prompt tail: got %q want suffix %q", s.Prompt, want)
	}
	if s.Answer != "C" {
		t.Fatalf("answer: got %q want C", s.Answer)
	}
}

func TestRenderMathEndsWithQuestion(t *testing.T) {
	t.Parallel()

	s, err := NewBuilder(TrainingTemplates).Render(task.Record{ID: "m", Type: task.Math, Prompt: "2+2=?", Answer: "Answer: 4"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasSuffix(s.Prompt, "2+2=?") {
		t.Fatalf("prompt should end with the question: %q", s.Prompt)
	}
	if strings.Contains(s.Prompt, "{Question}") {
		t.Fatal("template field left unfilled")
	}
}

func TestRenderGenerateAppendsPromptVerbatim(t *testing.T) {
	t.Parallel()

	r := task.Record{ID: "k", Type: task.CodeGenerate, Prompt: "def add(a, b):\n    \"\"\"{Question}\"\"\"\n"}
	s, err := NewBuilder(EvalTemplates).Render(r)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if s.Prompt != EvalTemplates.CodeGenerate+r.Prompt {
		t.Fatalf("got %q", s.Prompt)
	}
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	b := NewBuilder(TrainingTemplates)
	if _, err := b.Render(task.Record{ID: "x", Type: task.Type(42), Prompt: "p"}); !errors.Is(err, task.ErrUnknownTaskType) {
		t.Fatalf("unknown type: got %v", err)
	}
	if _, err := b.Render(task.Record{ID: "x", Type: task.Choice, Prompt: "p"}); !errors.Is(err, ErrMissingChoices) {
		t.Fatalf("missing choices: got %v", err)
	}
}

func TestEvalTemplatesDifferFromTraining(t *testing.T) {
	t.Parallel()

	if EvalTemplates.Math == TrainingTemplates.Math {
		t.Fatal("eval math template should carry the boxed instruction")
	}
	if !strings.Contains(EvalTemplates.Math, "\\boxed") {
		t.Fatalf("eval math template: %q", EvalTemplates.Math)
	}
}
