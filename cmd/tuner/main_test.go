package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/tuner/internal/infer"
	"github.com/samcharles93/tuner/internal/train"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	diverged := &train.DivergedError{Step: 3, Params: []string{"layers.0.q_proj.lora_a"}}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"diverged", diverged, exitDiverged},
		{"wrapped diverged", fmt.Errorf("train: %w", diverged), exitDiverged},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCommandsHaveUniqueFlags(t *testing.T) {
	t.Parallel()

	app := newApp()
	want := []string{"init", "train", "eval", "serve", "inspect", "version"}
	if len(app.Commands) != len(want) {
		t.Fatalf("expected %d commands, got %d", len(want), len(app.Commands))
	}
	root := map[string]bool{}
	for _, f := range app.Flags {
		for _, n := range f.Names() {
			root[n] = true
		}
	}
	for i, cmd := range app.Commands {
		if cmd.Name != want[i] {
			t.Fatalf("command %d: expected %q, got %q", i, want[i], cmd.Name)
		}
		if cmd.Action == nil {
			t.Fatalf("%s: no action", cmd.Name)
		}
		seen := map[string]bool{}
		for _, f := range cmd.Flags {
			for _, n := range f.Names() {
				if seen[n] || root[n] {
					t.Fatalf("%s: flag %q defined twice", cmd.Name, n)
				}
				seen[n] = true
			}
		}
	}
}

func runApp(t *testing.T, args ...string) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfg, nil, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	argv := append([]string{"tuner", "--config", cfg, "--log-level", "error"}, args...)
	if err := newApp().Run(context.Background(), argv); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
}

// The commands share package-level flag destinations, so this test does not
// run in parallel.
func TestTrainInspectEval(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "train.jsonl")
	lines := []string{
		`{"id":"c1","type":"choice","prompt":"Pick b","choices":{"A":"a","B":"b","C":"c","D":"d"},"answer":"B"}`,
		`{"id":"k1","type":"code-generate","prompt":"Return 1","answer":"return 1"}`,
		`{"id":"g1","type":"generic-generate","prompt":"Say hi","answer":"hi"}`,
		`{"id":"m1","type":"math","prompt":"2+2=?","answer":"Answer: 4"}`,
	}
	if err := os.WriteFile(data, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	model := filepath.Join(dir, "model")
	runApp(t, "train", "--data", data, "--out", model,
		"--epochs", "1", "--layers", "1", "--hidden-size", "16",
		"--lora-r", "2", "--max-length", "256", "--seed", "3")

	for _, name := range []string{"config.json", "model.safetensors", "tokenizer.json", "training_state.json"} {
		if _, err := os.Stat(filepath.Join(model, name)); err != nil {
			t.Fatalf("artifact missing %s: %v", name, err)
		}
	}
	runApp(t, "inspect", "--model", model, "--tensors")

	out := filepath.Join(dir, "results.json")
	runApp(t, "eval", "--model", model, "--data", data, "--out", out,
		"--use-head", "--max-tokens", "2", "--n", "1")

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	var res infer.Results
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if got := len(res.Result.Results); got != len(lines) {
		t.Fatalf("expected %d results, got %d", len(lines), got)
	}
	choice := res.Result.Results[0]
	if choice.ID != "c1" || len(choice.Content) != 1 || !strings.Contains("ABCD", choice.Content[0]) || choice.Content[0] == "" {
		t.Fatalf("expected a letter for the choice record, got %+v", choice)
	}
}
