package suggest

import (
	"fmt"
	"strings"

	"github.com/Batyrkajan/Amour/internal/model"
)

func (c *Client) systemPrompt() string {
	return fmt.Sprintf(
		"You are an AI wingman helping users have better conversations on a dating app. "+
			"Provide exactly %d short, engaging message suggestions that are natural and show "+
			"genuine interest. Keep each suggestion under %d characters. Reference shared "+
			"interests when they exist. Write one suggestion per line, nothing else.",
		c.opts.Count, c.opts.MaxChars)
}

func (c *Client) userPrompt(cc model.ConversationContext, history []model.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are helping %s (%d) talk to their match %s (%d).\n",
		cc.Self.Name, cc.Self.Age, cc.Peer.Name, cc.Peer.Age)
	fmt.Fprintf(&b, "%s's bio: %s\n", cc.Self.Name, cc.Self.Bio)
	fmt.Fprintf(&b, "%s's bio: %s\n", cc.Peer.Name, cc.Peer.Bio)

	if len(cc.Self.Interests) > 0 {
		fmt.Fprintf(&b, "%s's interests: %s\n", cc.Self.Name, strings.Join(cc.Self.Interests, ", "))
	}
	if len(cc.Peer.Interests) > 0 {
		fmt.Fprintf(&b, "%s's interests: %s\n", cc.Peer.Name, strings.Join(cc.Peer.Interests, ", "))
	}

	fmt.Fprintf(&b, "Messages exchanged so far: %d\n", cc.MessageCount)
	if cc.LastMessageAt != nil {
		fmt.Fprintf(&b, "Last message sent at: %s\n", cc.LastMessageAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "Contact info shared: %t\n", cc.HasSharedContactInfo)
	fmt.Fprintf(&b, "Conversation stage: %s\n", cc.Stage)

	switch cc.Stage {
	case model.StageInitial:
		b.WriteString("Goal: break the ice and spark curiosity.\n")
	case model.StageGettingToKnow:
		b.WriteString("Goal: deepen the conversation and find common ground.\n")
	case model.StagePlanningDate:
		b.WriteString("Goal: move toward meeting in person; suggest a concrete plan.\n")
	}

	tail := history
	if len(tail) > c.opts.HistoryWindow {
		tail = tail[len(tail)-c.opts.HistoryWindow:]
	}
	if len(tail) > 0 {
		b.WriteString("\nRecent messages:\n")
		for _, m := range tail {
			fmt.Fprintf(&b, "%s: %s\n", m.SenderID, m.Content)
		}
	}

	fmt.Fprintf(&b, "\nProvide %d message suggestions:", c.opts.Count)
	return b.String()
}
