// ABOUTME: Renders daemon responses as styled terminal text
// ABOUTME: Status panel, session table, and per-channel snapshot summary
package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harper/biosignal-recorder/internal/application/manager"
	"github.com/harper/biosignal-recorder/internal/domain"
	api "github.com/harper/biosignal-recorder/internal/infrastructure/http"
)

func stateBadge(state string) string {
	switch state {
	case "running":
		return RecordingDotStyle.Render("●") + " " + OKStyle.Render("RECORDING")
	case "starting", "stopping":
		return TransitionStyle.Render("◐ " + strings.ToUpper(state))
	default:
		return IdleDotStyle.Render("○ IDLE")
	}
}

func field(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// RenderStatus draws the session state panel.
func RenderStatus(st manager.Status) string {
	lines := []string{
		TitleStyle.Render("Biosignal acquisition") + "  " + stateBadge(st.State),
		"",
		field("MAC address", st.Config.MACAddress),
		field("Sampling rate", fmt.Sprintf("%d Hz", st.Config.SamplingRate)),
	}

	if st.SessionID != "" {
		lines = append(lines, field("Session", st.SessionID))
	}
	if st.StartedAt != nil {
		lines = append(lines, field("Running for", time.Since(*st.StartedAt).Round(time.Second).String()))
	}

	if s := st.Stats; s != nil {
		lines = append(lines, "")
		if s.Filename != "" {
			lines = append(lines, field("File", s.Filename+".csv"))
		}
		lines = append(lines,
			field("Frames", fmt.Sprintf("%d received, %d dropped", s.FramesReceived, s.FramesDropped)),
			field("Rows persisted", fmt.Sprintf("%d", s.RowsPersisted)),
		)
		if s.FlushFailures > 0 {
			lines = append(lines, field("Flush failures", WarnStyle.Render(fmt.Sprintf("%d", s.FlushFailures))))
		}
		if s.RowsLost > 0 {
			lines = append(lines, field("Rows lost", ErrorStyle.Render(fmt.Sprintf("%d", s.RowsLost))))
		}
	}

	if st.LastError != "" {
		lines = append(lines, "", ErrorStyle.Render("Last error: ")+st.LastError)
	}

	return PanelStyle.Render(strings.Join(lines, "\n"))
}

// RenderSessions draws the catalog as a table, newest first.
func RenderSessions(sessions []domain.SessionRecord) string {
	if len(sessions) == 0 {
		return DimStyle.Render("no sessions recorded")
	}

	header := fmt.Sprintf("%-19s  %-17s  %6s  %4s  %9s  %-9s  %s",
		"STARTED", "MAC", "RATE", "CH", "ROWS", "STATUS", "FILE")

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(DividerStyle.Render(strings.Repeat("─", lipgloss.Width(header))))

	for _, s := range sessions {
		status := string(s.Status)
		switch s.Status {
		case domain.StatusFailed:
			status = ErrorStyle.Render(fmt.Sprintf("%-9s", status))
		case domain.StatusActive:
			status = OKStyle.Render(fmt.Sprintf("%-9s", status))
		default:
			status = fmt.Sprintf("%-9s", status)
		}

		file := s.Filename
		if file != "" {
			file += ".csv"
		}

		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%-19s  %-17s  %6d  %4d  %9d  %s  %s",
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.MACAddress, s.SamplingRate, s.Channels, s.RowsPersisted, status, file))
	}
	return b.String()
}

// RenderSnapshot summarizes each channel of the live window.
func RenderSnapshot(snap api.SnapshotResponse) string {
	if !snap.Running || len(snap.Rows) == 0 {
		return DimStyle.Render("no live data")
	}

	first, last := snap.Rows[0][0], snap.Rows[len(snap.Rows)-1][0]

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Live window"))
	b.WriteString(DimStyle.Render(fmt.Sprintf("  %d rows, t=%.2fs..%.2fs at %d Hz",
		len(snap.Rows), first, last, snap.SamplingRate)))

	for c := 1; c <= snap.Channels; c++ {
		lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
		for _, row := range snap.Rows {
			v := row[c]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			sum += v
		}
		latest := snap.Rows[len(snap.Rows)-1][c]

		name := fmt.Sprintf("ch%d", c)
		if c < len(snap.Columns) {
			name = snap.Columns[c]
		}
		b.WriteString("\n")
		b.WriteString(field(name, fmt.Sprintf("latest %.1f  min %.1f  max %.1f  mean %.1f",
			latest, lo, hi, sum/float64(len(snap.Rows)))))
	}
	return b.String()
}
