package demux

import (
	"fmt"

	"github.com/zsiec/splitter/internal/media"
)

// Chapter is a named marker on the presentation timeline. Indexes are
// 1-based.
type Chapter struct {
	Index int        `json:"index"`
	Name  string     `json:"name"`
	Start media.Time `json:"start"`
	End   media.Time `json:"end"`
}

// ChapterCount returns the number of chapters in the container.
func (s *Splitter) ChapterCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return 0
	}
	return len(s.st.chapters)
}

// ListChapters returns the container chapters with their presentation
// times. Untitled chapters are named by their index.
func (s *Splitter) ListChapters() []Chapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return nil
	}

	out := make([]Chapter, 0, len(s.st.chapters))
	for i, c := range s.st.chapters {
		name := c.Title
		if name == "" {
			name = fmt.Sprintf("Chapter %d", i+1)
		}
		out = append(out, Chapter{
			Index: i + 1,
			Name:  name,
			Start: s.st.conv.ToPresentation(c.Start, c.TimeBase),
			End:   s.st.conv.ToPresentation(c.End, c.TimeBase),
		})
	}
	return out
}

// Chapter returns the chapter with a 1-based index.
func (s *Splitter) Chapter(index int) (Chapter, error) {
	chapters := s.ListChapters()
	if index < 1 || index > len(chapters) {
		return Chapter{}, fmt.Errorf("%w: chapter %d", ErrNotFound, index)
	}
	return chapters[index-1], nil
}

// CurrentChapter returns the 1-based index of the chapter containing the
// current position.
func (s *Splitter) CurrentChapter() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return 0, ErrNotLoaded
	}

	current, _ := s.st.timeline.positions()
	for i, c := range s.st.chapters {
		ts := s.st.conv.ToContainer(current, c.TimeBase)
		if ts >= c.Start && ts <= c.End {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: no chapter at %s", ErrNotFound, current)
}
