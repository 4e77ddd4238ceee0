package mpegts

import (
	"context"
	"fmt"
	"os"

	"github.com/zsiec/splitter/internal/container"
)

// Opener opens transport stream files from the local filesystem.
type Opener struct {
	opts []Option
}

// NewOpener returns an Opener applying opts to every Demuxer it creates.
func NewOpener(opts ...Option) *Opener {
	return &Opener{opts: opts}
}

// Open implements container.Opener. The locator is a file path.
func (o *Opener) Open(ctx context.Context, locator string) (container.Demuxer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(locator)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", locator, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w", locator, container.ErrUnsupportedFormat)
	}

	d := New(f, st.Size(), o.opts...)
	d.closer = f
	return d, nil
}

var _ container.Opener = (*Opener)(nil)
