// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/shuttlehub/pkg/ota"
)

type otaProgressMsg ota.Progress

type otaDoneMsg struct{ err error }

type otaModel struct {
	target   ota.Target
	size     int
	cancel   context.CancelFunc
	styles   tuiStyles
	bar      progress.Model
	last     ota.Progress
	started  time.Time
	err      error
	done     bool
	stopping bool
}

func initialOTAModel(target ota.Target, size int, cancel context.CancelFunc) otaModel {
	return otaModel{
		target:  target,
		size:    size,
		cancel:  cancel,
		styles:  newTUIStyles(),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		started: time.Now(),
	}
}

func (m otaModel) Init() tea.Cmd {
	return nil
}

func (m otaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// The update goroutine reports back through otaDoneMsg
			m.stopping = true
			m.cancel()
		}

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-20, 20), 80)

	case otaProgressMsg:
		m.last = ota.Progress(msg)

	case otaDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m otaModel) View() string {
	st := m.styles

	var s strings.Builder
	s.WriteString(st.title.Render("SHUTTLEHUB - FIRMWARE UPDATE"))
	s.WriteString("\n")
	s.WriteString(st.header.Render(fmt.Sprintf("Target: %s | Image: %d bytes | Press 'q' to abort", m.target, m.size)))
	s.WriteString("\n\n")

	s.WriteString(m.bar.ViewAs(float64(m.last.Percent) / 100))
	s.WriteString("\n\n")

	phase := "Connecting"
	if m.last.BytesTotal > 0 || m.last.Percent > 0 {
		phase = phaseLabel(m.last.Phase)
	}
	fmt.Fprintf(&s, "%s %s   %s %s   %s %s\n",
		st.label.Render("Phase:"), st.value.Render(phase),
		st.label.Render("Sent:"), st.value.Render(fmt.Sprintf("%d/%d bytes", m.last.BytesSent, m.size)),
		st.label.Render("Elapsed:"), st.value.Render(time.Since(m.started).Round(time.Second).String()),
	)

	switch {
	case m.done && m.err == nil:
		s.WriteString(st.value.Render("✓ Update complete"))
	case m.done && errors.Is(m.err, ota.ErrCancelled):
		s.WriteString(st.warning.Render("Update cancelled"))
	case m.done:
		s.WriteString(st.err.Render("✗ " + m.err.Error()))
	case m.stopping:
		s.WriteString(st.warning.Render("Aborting..."))
	}
	s.WriteString("\n")
	return s.String()
}

func phaseLabel(p ota.Phase) string {
	switch p {
	case ota.PhaseUpload:
		return "Uploading"
	case ota.PhaseFlashing:
		return "Flashing (device busy)"
	case ota.PhaseFinalizing:
		return "Starting firmware"
	}
	return p.String()
}
