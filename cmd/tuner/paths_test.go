package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveOutDir(t *testing.T) {
	t.Run("explicit output wins", func(t *testing.T) {
		t.Setenv(envTunerOutputDir, "/ignored")
		got, err := resolveOutDir(" ./a/../merged ", "/cfg", "run")
		if err != nil {
			t.Fatalf("resolveOutDir: %v", err)
		}
		if got != "merged" {
			t.Fatalf("got %q want %q", got, "merged")
		}
	})

	t.Run("env beats config", func(t *testing.T) {
		t.Setenv(envTunerOutputDir, "/env")
		got, err := resolveOutDir("", "/cfg", "run")
		if err != nil {
			t.Fatalf("resolveOutDir: %v", err)
		}
		if want := filepath.Join("/env", "run"); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("config then default", func(t *testing.T) {
		t.Setenv(envTunerOutputDir, "")
		got, err := resolveOutDir("", "/cfg", "run")
		if err != nil {
			t.Fatalf("resolveOutDir: %v", err)
		}
		if want := filepath.Join("/cfg", "run"); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
		got, err = resolveOutDir("", "", "run")
		if err != nil {
			t.Fatalf("resolveOutDir: %v", err)
		}
		if want := filepath.Join("out", "run"); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("empty run id", func(t *testing.T) {
		t.Setenv(envTunerOutputDir, "")
		if _, err := resolveOutDir("", "", " "); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRequireDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := requireDir("model", dir); err != nil {
		t.Fatalf("dir: %v", err)
	}
	for _, p := range []string{"", file, filepath.Join(dir, "missing")} {
		if err := requireDir("model", p); err == nil {
			t.Fatalf("%q: expected error", p)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("train:\n  num_train_epochs: 3\n  learning_rate: 0.0005\nlora:\n  r: 4\n  target_modules: [q_proj]\nlog_format: json\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Train.Epochs != 3 || cfg.Train.LearningRate != 0.0005 {
		t.Fatalf("train: got %+v", cfg.Train)
	}
	if cfg.Train.AccumulationSteps != 2 {
		t.Fatalf("unset key lost its default: accumulation=%d", cfg.Train.AccumulationSteps)
	}
	if cfg.LoRA.Rank != 4 || cfg.LoRA.Alpha != 32 || len(cfg.LoRA.TargetModules) != 1 {
		t.Fatalf("lora: got %+v", cfg.LoRA)
	}
	if cfg.LogFormat != "json" || cfg.ServerAddress != ":8080" {
		t.Fatalf("top level: got %+v", cfg)
	}

	missing := filepath.Join(dir, "missing.yaml")
	if _, err := LoadConfig(missing, false); err != nil {
		t.Fatalf("implicit missing file: %v", err)
	}
	if _, err := LoadConfig(missing, true); err == nil {
		t.Fatal("explicit missing file: expected error")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("train: [1, 2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(bad, true); err == nil {
		t.Fatal("malformed file: expected error")
	}
}
