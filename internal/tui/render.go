package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"marketchat/internal/models"
)

var (
	selfColor   = lipgloss.Color("39")
	otherColor  = lipgloss.Color("213")
	metaColor   = lipgloss.Color("242")
	statusColor = lipgloss.Color("241")
	errorColor  = lipgloss.Color("203")
	quoteColor  = lipgloss.Color("245")
	noticeColor = lipgloss.Color("220")

	metaStyle   = lipgloss.NewStyle().Foreground(metaColor)
	quoteStyle  = lipgloss.NewStyle().Foreground(quoteColor).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)
	statusStyle = lipgloss.NewStyle().Foreground(statusColor)
	noticeStyle = lipgloss.NewStyle().Foreground(noticeColor).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

const shortID = 6

func short(id string) string {
	id = strings.TrimPrefix(id, "local-")
	if len(id) > shortID {
		return id[:shortID]
	}
	return id
}

func delivery(m *models.Message, selfID string) string {
	switch m.Delivery {
	case models.DeliverySending:
		return "sending…"
	case models.DeliveryFailed:
		return errorStyle.Render("not sent")
	}
	if m.Sender.ID == selfID {
		for _, id := range m.SeenBy {
			if id != selfID {
				return "seen"
			}
		}
		return "sent"
	}
	return ""
}

// renderMessages lays the timeline out and records where each message
// starts and how many lines it spans.
func renderMessages(msgs []models.Message, selfID string, width int) (string, map[string]span) {
	layout := make(map[string]span, len(msgs))
	var lines []string
	wrap := lipgloss.NewStyle().Width(max(width-2, 10))

	for i := range msgs {
		m := &msgs[i]
		top := len(lines)

		color := otherColor
		if m.Sender.ID == selfID {
			color = selfColor
		}
		name := m.Sender.Name
		if name == "" {
			name = m.Sender.ID
		}
		meta := fmt.Sprintf("%s #%s", m.CreatedAt.Local().Format("Jan 2 15:04"), short(m.ID))
		if d := delivery(m, selfID); d != "" {
			meta += " · " + d
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(color).Bold(true).Render(name)+" "+metaStyle.Render(meta))

		if m.ReplyTo != nil {
			quote := m.ReplyTo.Text
			if quote == "" && m.ReplyTo.FileName != "" {
				quote = "📎 " + m.ReplyTo.FileName
			}
			if quote == "" {
				quote = "message deleted"
			}
			lines = append(lines, quoteStyle.Render("│ "+m.ReplyTo.Sender.Name+": "+quote))
		}

		switch {
		case m.Deleted:
			lines = append(lines, metaStyle.Render("  message deleted"))
		default:
			if body := m.Body(); body != "" {
				lines = append(lines, strings.Split(wrap.Render("  "+body), "\n")...)
			}
			if m.HasAttachment() {
				file := m.FileName
				if file == "" {
					file = m.MediaURL
				}
				lines = append(lines, "  📎 "+file)
			}
		}
		layout[m.ID] = span{top: top, height: len(lines) - top}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n"), layout
}

func renderUploads(ups []models.PendingUpload) string {
	var out []string
	for _, u := range ups {
		line := fmt.Sprintf("📎 %s %s %d%%", u.Name, u.Status, u.Progress)
		if u.Status == models.UploadFailed {
			line = errorStyle.Render(line + " " + u.Err)
		} else {
			line = statusStyle.Render(line)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
