package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"interactive-report-service/internal/content"
	"interactive-report-service/internal/timeline"
)

func TestSimulatePrintsCueTransitions(t *testing.T) {
	page := content.Sample().Pages[0]
	log := logrus.New()
	log.SetOutput(io.Discard)

	var out bytes.Buffer
	simulate(&out, timeline.FromPage(page), 5, 0, timeline.Config{}, log)

	text := out.String()
	require.Contains(t, text, "section theory")
	require.Contains(t, text, "scroll trust-poll")
	require.Contains(t, text, "section data")
	require.Contains(t, text, "highlight funding-chart,funding-legend")
	require.Contains(t, text, "section consequences")
	require.True(t, strings.HasSuffix(strings.TrimSpace(text), "end at cue 3 (consequences)"), text)
	require.Less(t, strings.Index(text, "section data"), strings.Index(text, "section consequences"))
}
