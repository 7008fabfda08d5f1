package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Progress is a pass-through stage that logs the bytes moved so far every
// interval, plus a final total. A non-positive interval only logs the total.
func Progress(interval time.Duration, log zerolog.Logger) Stage {
	if interval <= 0 {
		interval = time.Duration(1<<63 - 1)
	}
	return Stage{
		Name: "progress",
		Run: func(ctx context.Context, in io.Reader, out io.Writer) error {
			var n atomic.Int64
			start := time.Now()
			done := make(chan struct{})
			stopped := make(chan struct{})

			go func() {
				defer close(stopped)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ctx.Done():
						return
					case <-ticker.C:
						report(log.Info(), n.Load(), time.Since(start)).Msg("transfer progress")
					}
				}
			}()

			_, err := io.Copy(out, &countingReader{r: in, n: &n})
			close(done)
			<-stopped
			if err == nil {
				report(log.Info(), n.Load(), time.Since(start)).Msg("transfer complete")
			}
			return err
		},
	}
}

func report(e *zerolog.Event, n int64, elapsed time.Duration) *zerolog.Event {
	rate := uint64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = uint64(float64(n) / secs)
	}
	return e.Int64("bytes", n).
		Str("transferred", humanize.IBytes(uint64(n))).
		Str("rate", humanize.IBytes(rate)+"/s").
		Dur("elapsed", elapsed.Round(time.Second))
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
