package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"interactive-report-service/internal/clock"
	"interactive-report-service/internal/config"
	"interactive-report-service/internal/content"
	"interactive-report-service/internal/logger"
	"interactive-report-service/internal/timeline"
)

// NewTimelineCmd plays a page's timeline against a headless surface and prints what the
// director does.
func NewTimelineCmd(configPath *string) *cobra.Command {
	var (
		slug  string
		step  float64
		until float64
	)
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Simulate the narration of a page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if step <= 0 {
				return fmt.Errorf("step must be positive")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			bundle, err := loadBundle(cfg)
			if err != nil {
				return err
			}
			page, err := content.NewStaticLoader(bundle).LoadPage(cmd.Context(), slug)
			if err != nil {
				return err
			}
			log := logger.New("report-service", cfg.Log.Level).WithField("page", page.Slug)
			simulate(cmd.OutOrStdout(), timeline.FromPage(page), step, until, timelineConfig(cfg), log)
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "page", "public-media", "page slug")
	cmd.Flags().Float64Var(&step, "step", 1, "seconds of audio per step")
	cmd.Flags().Float64Var(&until, "until", 0, "stop at this playback time (default: 30s after the last cue)")
	return cmd
}

func simulate(out io.Writer, tl timeline.Timeline, step, until float64, cfg timeline.Config, log logrus.FieldLogger) {
	if until <= 0 {
		until = 30
		if n := len(tl.Cues); n > 0 {
			until += tl.Cues[n-1].At
		}
	}
	fake := clock.NewFake(time.Unix(0, 0))
	audio := timeline.NewSimulatedAudio(fake, until)
	surface := &headlessSurface{out: out, audio: audio}
	cfg.Scheduler = fake
	cfg.Logger = log
	director := timeline.NewDirector(tl, audio, surface, cfg)

	audio.Load()
	for audio.CurrentTime() < until {
		audio.Step(step)
		fake.Advance(time.Duration(step * float64(time.Second)))
	}
	snap := director.Snapshot()
	director.Close()
	fmt.Fprintf(out, "%7.1fs end at cue %d (%s)\n", audio.CurrentTime(), snap.Index, snap.Section)
}

// headlessSurface renders every element in one fixed box and prints each directive.
type headlessSurface struct {
	out   io.Writer
	audio *timeline.SimulatedAudio
}

func (s *headlessSurface) printf(format string, args ...any) {
	fmt.Fprintf(s.out, "%7.1fs "+format+"\n", append([]any{s.audio.CurrentTime()}, args...)...)
}

func (s *headlessSurface) Bounds(string) (timeline.Rect, bool) {
	return timeline.Rect{Left: 40, Top: 120, Width: 600, Height: 320}, true
}

func (s *headlessSurface) Viewport() timeline.Size {
	return timeline.Size{Width: 1280, Height: 800}
}

func (s *headlessSurface) ShowSection(section string) { s.printf("section %s", section) }
func (s *headlessSurface) ScrollIntoView(id string)   { s.printf("scroll %s", id) }
func (s *headlessSurface) Highlight(ids []string)     { s.printf("highlight %s", strings.Join(ids, ",")) }
func (s *headlessSurface) Unhighlight(ids []string)   { s.printf("unhighlight %s", strings.Join(ids, ",")) }
func (s *headlessSurface) MountOverlay()              { s.printf("overlay on") }
func (s *headlessSurface) SetOverlay(string, float64) {}
func (s *headlessSurface) UnmountOverlay()            { s.printf("overlay off") }
