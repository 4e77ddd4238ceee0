package demux

import (
	"fmt"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/media"
)

// ListKeyFrames returns the presentation times of the indexed access points
// of a stream. Containers without an index report none.
func (s *Splitter) ListKeyFrames(streamID int) ([]media.Time, error) {
	// Held across Index so Close cannot close the container mid-scan.
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	if st == nil {
		return nil, ErrNotLoaded
	}

	d, ok := st.registry.FindByID(streamID)
	if !ok {
		return nil, fmt.Errorf("%w: stream %d", ErrNotFound, streamID)
	}
	ix, ok := st.demuxer.(container.Indexer)
	if !ok {
		return nil, nil
	}

	entries, err := ix.Index(streamID)
	if err != nil {
		return nil, fmt.Errorf("index stream %d: %w", streamID, err)
	}

	out := make([]media.Time, 0, len(entries))
	for _, e := range entries {
		if !e.Keyframe {
			continue
		}
		if t := st.conv.ToPresentation(e.Timestamp, d.TimeBase); t.Valid() {
			out = append(out, t)
		}
	}
	return out, nil
}

// KeyFrameCount returns the number of indexed access points of a stream.
func (s *Splitter) KeyFrameCount(streamID int) (int, error) {
	kfs, err := s.ListKeyFrames(streamID)
	if err != nil {
		return 0, err
	}
	return len(kfs), nil
}
