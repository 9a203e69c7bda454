package gitrepo

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeRunner is a scripted CommandRunner: each call is matched against a
// registered handler keyed by the leading git subcommand (e.g. "checkout",
// "commit"). Handlers that are not registered return empty output and no
// error, which is enough for paths this package's tests don't assert on.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	handlers map[string]func(args []string) (string, error)
	branch   string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		handlers: map[string]func(args []string) (string, error){},
		branch:   "flow",
	}
}

func (f *fakeRunner) on(subcommand string, h func(args []string) (string, error)) {
	f.handlers[subcommand] = h
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()

	if len(args) == 0 {
		return "", fmt.Errorf("no args")
	}

	switch args[0] {
	case "branch":
		if len(args) >= 2 && args[1] == "--show-current" {
			return f.branch, nil
		}
	case "checkout":
		if len(args) >= 3 && args[1] == "-b" {
			f.branch = args[2]
			return "", nil
		}
		if len(args) >= 2 {
			f.branch = args[len(args)-1]
			return "", nil
		}
	}

	if h, ok := f.handlers[args[0]]; ok {
		return h(args)
	}
	return "", nil
}

func (f *fakeRunner) callsFor(subcommand string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if len(c) > 0 && c[0] == subcommand {
			out = append(out, c)
		}
	}
	return out
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
