package admission

import (
	"context"
	"testing"
	"time"
)

func BenchmarkSubmit_Immediate(b *testing.B) {
	c := New(WithDrainInterval(time.Second))
	defer c.Close()

	c.SetPolicy("bench", Policy{MaxRequests: 1 << 30, Window: time.Hour})

	op := func(ctx context.Context) (any, error) { return nil, nil }
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Submit(ctx, "bench", op); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStats(b *testing.B) {
	c := New(WithDrainInterval(time.Second))
	defer c.Close()

	c.SetPolicy("bench", Policy{MaxRequests: 100, Window: time.Second})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Stats("bench")
	}
}
