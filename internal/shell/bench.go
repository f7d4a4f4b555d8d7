package shell

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// cmdBench runs concurrent create/read/rewrite/delete cycles against the
// mounted file system and reports throughput. Every worker stays on its
// own file names, so the run is self cleaning.
func (s *session) cmdBench(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: bench <files> <workers>")
	}

	files, err := strconv.Atoi(args[0])
	if err != nil || files < 1 {
		return errors.New("bench: files must be a positive integer")
	}

	workers, err := strconv.Atoi(args[1])
	if err != nil || workers < 1 {
		return errors.New("bench: workers must be a positive integer")
	}

	blockSize := s.fs.Geometry().BlockSize
	content := bytes.Repeat([]byte("fatsim"), int(blockSize)/3) // roughly two blocks

	s.io.Printf("Benchmarking %d workers x %d files each...\n", workers, files)

	var (
		wg  sync.WaitGroup
		ops atomic.Uint64
	)

	errs := make(chan error, workers)
	start := time.Now()

	for w := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for f := range files {
				name := fmt.Sprintf("bench-%d-%d.tmp", w, f)

				if err := s.fs.Create(name, content); err != nil {
					errs <- fmt.Errorf("create %s: %w", name, err)

					return
				}

				if _, err := s.fs.ReadFile(name); err != nil {
					errs <- fmt.Errorf("read %s: %w", name, err)

					return
				}

				if err := s.fs.WriteFile(name, content[:blockSize/2]); err != nil {
					errs <- fmt.Errorf("rewrite %s: %w", name, err)

					return
				}

				if err := s.fs.Delete(name); err != nil {
					errs <- fmt.Errorf("delete %s: %w", name, err)

					return
				}

				ops.Add(4)
			}
		}()
	}

	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return fmt.Errorf("bench: %w", err)
	}

	elapsed := time.Since(start)
	total := ops.Load()
	rate := float64(total) / elapsed.Seconds()

	s.io.Printf("OK: %d ops in %v (%.0f ops/sec)\n", total, elapsed.Round(time.Millisecond), rate)

	stats := s.fs.CacheStats()
	s.io.Printf("Cache: %d hits, %d misses, %d evictions (hit ratio %s)\n",
		stats.Hits, stats.Misses, stats.Evictions, stats.HitRatioPercent())

	return nil
}
