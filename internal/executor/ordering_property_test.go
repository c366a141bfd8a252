package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/specialistvlad/remotebox/internal/node"
	"pgregory.net/rapid"
)

// TestRun_NoNodeStartsBeforeItsDependencies checks, for random acyclic
// graphs and worker counts, that every node starts only after all of its
// dependencies finished and that a fully successful graph reports Success.
func TestRun_NoNodeStartsBeforeItsDependencies(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "nodes")
		workers := rapid.IntRange(0, 4).Draw(t, "workers")

		rec := newRecorder()
		tasks := make([]node.Task, n)
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("n%d", i)
			var deps []string
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, fmt.Sprintf("edge_%d_%d", j, i)) {
					deps = append(deps, fmt.Sprintf("n%d", j))
				}
			}
			tasks[i] = node.Task{Name: name, DependsOn: deps, Action: rec.action(name, 0, nil)}
		}

		e, err := New(tasks, WithWorkers(workers))
		if err != nil {
			t.Fatalf("acyclic graph rejected: %v", err)
		}
		report, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if report.Status != Success {
			t.Fatalf("status = %s, want success", report.Status)
		}

		for _, task := range tasks {
			for _, dep := range task.DependsOn {
				if rec.starts[task.Name] <= rec.ends[dep] {
					t.Fatalf("%s started (seq %d) before %s finished (seq %d)",
						task.Name, rec.starts[task.Name], dep, rec.ends[dep])
				}
			}
		}
	})
}
