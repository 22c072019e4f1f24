package features

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Loader reads one audio file into mono samples at the extractor's rate.
type Loader func(path string) ([]float64, error)

// Result is the outcome for one input file.
type Result struct {
	Path     string
	Features *mat.Dense
	Err      error
}

// ExtractFiles loads and featurizes paths on a bounded pool of workers.
// Results keep the order of paths. A failing file sets only its own Err.
// Files not yet started when ctx is cancelled report ctx.Err().
func (e *Extractor) ExtractFiles(ctx context.Context, paths []string, load Loader, workers int) []Result {
	out := make([]Result, len(paths))
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.extractFile(ctx, paths[i], load)
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func (e *Extractor) extractFile(ctx context.Context, path string, load Loader) Result {
	res := Result{Path: path}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	wave, err := load(path)
	if err != nil {
		res.Err = fmt.Errorf("load %s: %w", path, err)
		return res
	}
	res.Features = e.Extract(wave)
	slog.Debug("features extracted", "path", path, "samples", len(wave))
	return res
}
