//go:build bench

package renderd

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// BenchmarkResolvePoolSize benchmarks pool size calculation.
func BenchmarkResolvePoolSize(b *testing.B) {
	for _, size := range []int{0, 1, 4, 16} {
		b.Run(sizeName(size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = ResolvePoolSize(size)
			}
		})
	}
}

func sizeName(size int) string {
	if size == 0 {
		return "auto"
	}
	return fmt.Sprintf("size_%d", size)
}

// newBenchPool returns a started pool of fake browsers.
func newBenchPool(b *testing.B, size int) *Pool {
	b.Helper()

	fleet := &fakeFleet{}
	p, err := NewPool(fleet.factory, PoolConfig{MinSize: size, MaxSize: size})
	if err != nil {
		b.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

// BenchmarkPoolAcquireRelease benchmarks one lease cycle, reset included.
func BenchmarkPoolAcquireRelease(b *testing.B) {
	for _, size := range []int{1, 4} {
		b.Run(sizeName(size), func(b *testing.B) {
			p := newBenchPool(b, size)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				l, err := p.Acquire(ctx)
				if err != nil {
					b.Fatal(err)
				}
				l.Release()
			}
		})
	}
}

// BenchmarkPoolContention has more goroutines than browsers.
func BenchmarkPoolContention(b *testing.B) {
	const size = 4
	for _, g := range []int{4, 16, 64} {
		b.Run(fmt.Sprintf("goroutines_%d", g), func(b *testing.B) {
			p := newBenchPool(b, size)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()

			var wg sync.WaitGroup
			per := b.N/g + 1
			for w := 0; w < g; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						l, err := p.Acquire(ctx)
						if err != nil {
							b.Error(err)
							return
						}
						l.Release()
					}
				}()
			}
			wg.Wait()
		})
	}
}
