package service

import (
	"context"
	"testing"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// BenchmarkEngineEvaluate measures the six-layer pipeline end to end
// over in-memory stores. Anonymous requests keep the escalation window
// and wallet out of the loop, so this is the pipeline plus persistence.
func BenchmarkEngineEvaluate(b *testing.B) {
	allowReq := action.Request{
		Tool: "file_read",
		Args: action.MapOf(action.F("path", action.String("/tmp/notes.txt"))),
	}
	blockReq := action.Request{
		Tool: "shell",
		Args: action.MapOf(action.F("command", action.String("rm -rf /data"))),
	}

	b.Run("allow", func(b *testing.B) {
		env := newTestEnv(b, false)
		ctx := context.Background()
		b.ReportAllocs()
		b.ResetTimer()
		for b.Loop() {
			if _, err := env.engine.Evaluate(ctx, allowReq); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("firewall_block", func(b *testing.B) {
		env := newTestEnv(b, false)
		ctx := context.Background()
		b.ReportAllocs()
		b.ResetTimer()
		for b.Loop() {
			if _, err := env.engine.Evaluate(ctx, blockReq); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkEngineEvaluateParallel measures pipeline throughput under
// contention. Every goroutine shares one engine, one action store, and
// one policy snapshot.
func BenchmarkEngineEvaluateParallel(b *testing.B) {
	env := newTestEnv(b, false)
	req := action.Request{
		Tool: "file_read",
		Args: action.MapOf(action.F("path", action.String("/tmp/notes.txt"))),
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			if _, err := env.engine.Evaluate(ctx, req); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
