package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tubechat/internal/chatstore"
	"tubechat/internal/protocol"
)

// pre styled colors// all from lipglpss
var (
	appTitleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuHintStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	chatHeaderStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle       = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle      = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle        = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	indexStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	usernameStyle        = lipgloss.NewStyle().Bold(true)
	activeUserStyle      = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	pendingStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	failedStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	errorStyle           = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	dividerStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	channelSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	channelItemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	userColorPalette     = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeNamePrompt:
		return model.renderPrompt("Welcome to TubeChat", "Pick the display name others will see.")
	case modeCommunityPrompt:
		return model.renderPrompt("Join a community", "Enter the community id and press Enter.")
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint)

	viewSections := []string{header, hintText}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{"TubeChat", fmt.Sprintf("Community %s", model.communityID)}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.identity.Username))
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverJoinURL))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil && !model.isConnected:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	sections := []string{header, model.renderChannelBar(), statusLine}

	if ch, ok := model.currentChannel(); ok && !ch.Kind.CarriesMessages() {
		sections = append(sections, messageBoxStyle.Render(model.renderVoiceRoster(ch)))
	} else {
		sections = append(sections, messageBoxStyle.Render(model.renderMessages()))
		if typing := model.renderTyping(); typing != "" {
			sections = append(sections, typing)
		}
	}

	sections = append(sections, subtitleStyle.Render("Online: "+joinUsernames(model.store.Online())))
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("Tab next channel • /join <n> • /edit <n> <text> • /delete <n> • /voice • /quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderChannelBar() string {
	if len(model.channels) == 0 {
		return menuHintStyle.Render("Loading channels…")
	}
	labels := make([]string, 0, len(model.channels))
	for _, ch := range model.channels {
		label := channelLabel(ch)
		if ch.ID == model.channelID {
			labels = append(labels, channelSelectedStyle.Render("➤ "+label))
		} else {
			labels = append(labels, channelItemStyle.Render("  "+label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, labels...)
}

func (model *TUIModel) renderMessages() string {
	entries := model.store.Messages(model.channelID)
	if len(entries) == 0 {
		return systemMessageStyle.Render("No messages yet. Say hi and start the conversation.")
	}
	lines := make([]string, 0, len(entries))
	for idx, entry := range entries {
		lines = append(lines, model.renderEntry(idx+1, entry))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderEntry renders a single log line. It stamps the number used by /edit
// and /delete, picks a color for the sender and marks unconfirmed sends.
func (model *TUIModel) renderEntry(n int, entry chatstore.Entry) string {
	msg := entry.Message()
	index := indexStyle.Render(fmt.Sprintf("%3d", n))
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", msg.CreatedAt.Local().Format("15:04:05")))

	var nameStyle lipgloss.Style
	if msg.Sender.ID == model.identity.ID {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.Sender.Username))
	}
	name := nameStyle.Render(msg.Sender.Username)
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(msg.Text, "\n", "\n   "))

	var marker string
	switch e := entry.(type) {
	case chatstore.Pending:
		marker = pendingStyle.Render(" (sending…)")
	case chatstore.Failed:
		marker = failedStyle.Render(" ✗ " + e.Reason)
	case chatstore.Confirmed:
		if e.Msg.Version > 1 {
			marker = pendingStyle.Render(" (edited)")
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, index, " ", timestamp, " ", name, ": ", bodyText, marker)
}

func (model *TUIModel) renderTyping() string {
	users := model.store.Typing(model.channelID)
	switch len(users) {
	case 0:
		return ""
	case 1:
		return pendingStyle.Render(users[0].Username + " is typing…")
	default:
		return pendingStyle.Render(joinUsernames(users) + " are typing…")
	}
}

func (model *TUIModel) renderVoiceRoster(ch protocol.Channel) string {
	users := model.store.VoiceUsers(ch.ID)
	lines := []string{subtitleStyle.Render("Voice: " + ch.Name)}
	if len(users) == 0 {
		lines = append(lines, systemMessageStyle.Render("Nobody is connected. /voice to join."))
	}
	for _, user := range users {
		lines = append(lines, presenceDot(true)+" "+usernameStyle.Copy().Foreground(colorForUser(user.Username)).Render(user.Username))
	}
	if model.voiceChannel == ch.ID {
		lines = append(lines, connectedStyle.Render("You are connected."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (model *TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	rendered := make([]string, 0, len(model.notices))
	for _, text := range model.notices {
		rendered = append(rendered, systemMessageStyle.Render(text))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rendered...))
}

func channelLabel(ch protocol.Channel) string {
	switch ch.Kind {
	case protocol.ChannelVoice:
		return "♪" + ch.Name
	case protocol.ChannelVideo:
		return "▶" + ch.Name
	default:
		return "#" + ch.Name
	}
}

func joinUsernames(users []protocol.Identity) string {
	if len(users) == 0 {
		return "nobody"
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return strings.Join(names, ", ")
}

func presenceDot(online bool) string {
	if online {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("○")
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
