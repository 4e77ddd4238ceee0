// Command splitter-probe loads a container file and prints its streams,
// duration, chapters and key frame index without starting playback.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/splitter/internal/container/mpegts"
	"github.com/zsiec/splitter/internal/demux"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/sink"
	"github.com/zsiec/splitter/pkg/version"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#1565C0")).
		Padding(0, 1)
	headingStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B35")).
		MarginTop(1)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#90A4AE")).Width(12)
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#616161"))
	boxStyle      = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#30363D")).
		Padding(0, 1)
)

type report struct {
	Locator   string                `json:"locator"`
	Format    string                `json:"format"`
	Duration  media.Time            `json:"duration"`
	Streams   []demux.StreamSummary `json:"streams"`
	Chapters  []demux.Chapter       `json:"chapters"`
	KeyFrames map[int][]media.Time  `json:"key_frames,omitempty"`
}

func main() {
	var (
		probeSize   int64
		asJSON      bool
		keyFrames   bool
		timeout     time.Duration
		showVersion bool
	)

	flag.Int64Var(&probeSize, "probe-size", 5<<20, "Bytes scanned for stream discovery")
	flag.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	flag.BoolVar(&keyFrames, "keyframes", false, "Index and list video key frames")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rep, err := probe(ctx, flag.Arg(0), probeSize, keyFrames)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println(render(rep))
}

func probe(ctx context.Context, locator string, probeSize int64, keyFrames bool) (*report, error) {
	opener := mpegts.NewOpener(mpegts.WithProbeSize(probeSize))
	factory := sink.NewQueueSinkFactory(1, logger.NewNullLogger())

	s := demux.New(opener, factory, demux.Config{}, logger.NewNullLogger())
	defer s.Close()

	streams, err := s.Load(ctx, locator)
	if err != nil {
		return nil, err
	}

	rep := &report{
		Locator:  locator,
		Format:   s.Format(),
		Duration: s.GetDuration(),
		Streams:  streams,
		Chapters: s.ListChapters(),
	}

	if keyFrames {
		rep.KeyFrames = make(map[int][]media.Time)
		for _, st := range streams {
			if st.Kind != media.KindVideo.String() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			frames, err := s.ListKeyFrames(st.ID)
			if err != nil {
				return nil, fmt.Errorf("index stream %d: %w", st.ID, err)
			}
			rep.KeyFrames[st.ID] = frames
		}
	}

	return rep, nil
}

func render(rep *report) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(rep.Locator))
	b.WriteString("\n")

	var info strings.Builder
	fmt.Fprintf(&info, "%s%s\n", labelStyle.Render("format"), rep.Format)
	fmt.Fprintf(&info, "%s%s", labelStyle.Render("duration"), formatTime(rep.Duration))
	b.WriteString(boxStyle.Render(info.String()))

	b.WriteString("\n")
	b.WriteString(headingStyle.Render(fmt.Sprintf("Streams (%d)", len(rep.Streams))))
	b.WriteString("\n")
	for _, st := range rep.Streams {
		line := fmt.Sprintf("#%-3d id=%-5d %-9s %-16s %s", st.Index, st.ID, st.Kind, st.Codec, st.Name)
		if !st.Enabled {
			line = disabledStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(rep.Chapters) > 0 {
		b.WriteString(headingStyle.Render(fmt.Sprintf("Chapters (%d)", len(rep.Chapters))))
		b.WriteString("\n")
		for _, ch := range rep.Chapters {
			fmt.Fprintf(&b, "%3d  %s - %s  %s\n", ch.Index, formatTime(ch.Start), formatTime(ch.End), ch.Name)
		}
	}

	for id, frames := range rep.KeyFrames {
		b.WriteString(headingStyle.Render(fmt.Sprintf("Key frames, stream %d (%d)", id, len(frames))))
		b.WriteString("\n")
		for _, t := range frames {
			b.WriteString(formatTime(t))
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatTime(t media.Time) string {
	if !t.Valid() || t == 0 {
		return "0:00:00.000"
	}
	d := t.Duration()
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}
