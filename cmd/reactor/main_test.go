package main

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/openfluke/reactor/cpu"
	"github.com/openfluke/reactor/reaction"
	"github.com/sirupsen/logrus"
)

func init() {
	logger = logrus.NewEntry(logrus.New())
}

func TestDemoOutput(t *testing.T) {
	exec, err := cpu.NewExecutor(cpu.Config{Workers: 2})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	defer func() { _ = exec.Close() }()

	reactions, err := reaction.ParseAll(defaultReactions)
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}

	var out bytes.Buffer
	if err := demo(context.Background(), &out, exec, reactions, 4); err != nil {
		t.Fatalf("demo: %v", err)
	}

	want := strings.Join([]string{
		fmt.Sprintf("Using %s/%s CPU (2 workers)", runtime.GOOS, runtime.GOARCH),
		"0 1 2 3",
		"0 0.1 0.2 0.3",
		"2 2.1 2.2 2.3",
		"0 0.1 0.2 0.3",
		"2 2.1 2.2 2.3",
	}, "\n") + "\n"
	if out.String() != want {
		t.Errorf("demo output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestDemoRejectsNegativeSize(t *testing.T) {
	exec, err := cpu.NewExecutor(cpu.Config{Workers: 1})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	defer func() { _ = exec.Close() }()

	if err := demo(context.Background(), &bytes.Buffer{}, exec, nil, -1); err == nil {
		t.Error("expected an error for a negative size")
	}
}

func TestNewExecutorUnknownKind(t *testing.T) {
	if _, _, err := newExecutor("tpu", 1, nil); err == nil {
		t.Error("expected an error for an unknown executor")
	}
}
