package transformer

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/ArabicASR/params"
)

// GenerateBatch decodes every utterance on a pool of workers sharing m.
// out[i] belongs to batch[i]; a nil feature matrix, or one whose decode
// panics, yields a nil result. workers <= 0 uses GOMAXPROCS.
func (m *Transformer) GenerateBatch(batch []*mat.Dense, dp params.DecodeParams, workers int) [][]int {
	out := make([][]int, len(batch))
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(batch) {
		workers = len(batch)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if batch[i] == nil {
					continue
				}
				out[i] = m.generateIsolated(i, batch[i], dp)
			}
		}()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// generateIsolated turns a panic from one utterance into a nil result so the
// rest of the batch still decodes.
func (m *Transformer) generateIsolated(i int, features *mat.Dense, dp params.DecodeParams) (seq []int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("decode failed", "index", i, "err", fmt.Sprint(r))
			seq = nil
		}
	}()
	return m.Generate(features, dp)
}
