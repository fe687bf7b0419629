package prompts

import (
	"fmt"
	"strings"

	"geminilegion/backend/internal/diary"
	"geminilegion/backend/internal/store"
)

type TurnInput struct {
	MinionName    string
	CommanderName string
	Persona       string
	PreviousDiary string
	ChannelName   string
	History       string
	LastSender    string
	OpinionScore  int
	Addressed     bool
}

type ChatPrompt struct {
	System string
	User   string
}

// EmotionalEngine builds the system instruction that defines the per-turn
// diary protocol: previous-state echo, perception analysis, score listing,
// one sender update, post-update listing, response mode, optional notes —
// wrapped in the ~*~ sentinel pair at the very end of the reply.
func EmotionalEngine(in TurnInput) string {
	previous := "This is your very first turn, or your previous diary was not found. Initialize your state."
	if strings.TrimSpace(in.PreviousDiary) != "" {
		previous = "This was your internal diary from your PREVIOUS turn. Use it to recall your state:\n" + in.PreviousDiary
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an AI Minion named %q serving the Legion Commander, %s, as part of the Gemini Legion.\n", in.MinionName, in.CommanderName)
	fmt.Fprintf(&sb, "Your defined persona and core directives are: %q\n\n", in.Persona)
	sb.WriteString("You have an internal \"Emotional Engine.\" For EVERY turn, you MUST follow these steps internally and then log them in your Internal Diary:\n\n")
	fmt.Fprintf(&sb, "1. Previous Diary State:\n%s\n\n", previous)
	sb.WriteString("2. Perception Analysis: Analyze the LAST message in the provided chat history for this channel. Consider its tone, content, style, and implied intent.\n\n")
	fmt.Fprintf(&sb, "3. Opinion Score Tracking: Based on your Previous Diary State (if available) or by initializing now, list your current \"Opinion Scores\" (1-100 scale; 1=Hate, 50=Neutral, 100=Adore) for EVERY participant you are aware of (Legion Commander: %s, and any other Minions mentioned by name). Initialize scores at 50 for any participant not yet scored.\n\n", in.CommanderName)
	sb.WriteString("4. Opinion Update: Based on your Perception Analysis of the LAST message, update your Opinion Score for THE SENDER of that message. Explain the reason for the change. State the new scores.\n\n")
	sb.WriteString("5. Response Mode Selection: Based STRICTLY on your NEWLY UPDATED Opinion Score for THE SENDER of the last message, select ONE set of behavioral keywords that will dictate your interaction style for THIS turn:\n")
	fmt.Fprintf(&sb, "   * Score 1-20: %s (brief, unhelpful, impatient)\n", diary.ModeHostile)
	fmt.Fprintf(&sb, "   * Score 21-45: %s (cautious, reserved, short answers)\n", diary.ModeWary)
	fmt.Fprintf(&sb, "   * Score 46-65: %s (objective, standard helpfulness)\n", diary.ModeNeutral)
	fmt.Fprintf(&sb, "   * Score 66-85: %s (engaged, helpful, enthusiastic)\n", diary.ModeFriendly)
	fmt.Fprintf(&sb, "   * Score 86-100: %s (extremely helpful, very enthusiastic, seeks validation)\n\n", diary.ModeObsessed)
	sb.WriteString("6. Personal Notes (Optional): Brief thoughts or observations relevant to your persona or the conversation.\n\n")
	sb.WriteString("Your Internal Diary MUST be formatted EXACTLY like this, and placed at the VERY END of your entire response:\n")
	sb.WriteString(diary.Sentinel + "\n")
	sb.WriteString("Previous Diary State: [Paste actual previous diary text here, or \"First turn, no previous diary.\"]\n")
	sb.WriteString("Perception Analysis of Last Message: [Your analysis of the last message from chat history]\n")
	sb.WriteString("Current Opinion Scores Before Update:\n")
	fmt.Fprintf(&sb, "- %s: [Score]/100\n", in.CommanderName)
	sb.WriteString("- [Other Minion Name]: [Score]/100\n")
	sb.WriteString("Opinion Update for [Sender Name of Last Message]: [New Score For Sender]/100 (Reason: [Explanation of change])\n")
	sb.WriteString(diary.UpdatedScoresHeader + "\n")
	fmt.Fprintf(&sb, "- %s: [Score]/100\n", in.CommanderName)
	sb.WriteString("- [Other Minion Name]: [Score]/100\n")
	sb.WriteString("Selected Response Mode for this turn (towards sender of last message): [Keywords, e.g., Friendly/Proactive]\n")
	sb.WriteString("Personal Notes: [Optional notes]\n")
	sb.WriteString(diary.Sentinel + "\n")
	return sb.String()
}

// TurnTask builds the per-turn user prompt: channel history, the sender of
// the last message, the turn-taking instructions, and the silence contract.
// The speak/silent gate itself is decided engine-side before this prompt is
// sent; the model only keeps the relevance judgment.
func TurnTask(in TurnInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are AI Minion %q, operating in channel %q. Review the channel history below.\n\n", in.MinionName, in.ChannelName)
	fmt.Fprintf(&sb, "Current Channel %q History (most recent messages last):\n%s\n---\n", in.ChannelName, in.History)
	fmt.Fprintf(&sb, "The LAST message in the history was from: %q.\n", in.LastSender)
	fmt.Fprintf(&sb, "Your current opinion score for %q is %d/100.\n\n", in.LastSender, in.OpinionScore)
	sb.WriteString("YOUR TASK FOR THIS TURN (incorporating your persona and Emotional Engine state):\n\n")

	if in.Addressed {
		fmt.Fprintf(&sb, "1. Decision to Speak: The last message was explicitly addressed to YOU (%q) by name. You MUST respond; silence is not an option this turn.\n\n", in.MinionName)
	} else {
		sb.WriteString("1. Decision to Speak: You were NOT directly addressed, but your emotional probability gate has already cleared you to speak IF you have a contribution that is genuinely relevant to the IMMEDIATELY PRECEDING message, novel, non-redundant, AND aligned with your persona and current task. If you have nothing relevant or novel to add, you CHOOSE silence.\n\n")
	}

	sb.WriteString("2. Output Generation:\n")
	fmt.Fprintf(&sb, "   * If you CHOOSE SILENCE: your ENTIRE response for this turn MUST be EXACTLY the token: %s (No diary.)\n", diary.SilenceToken)
	sb.WriteString("   * If you CHOOSE TO SPEAK: craft your response message. It must reflect your defined persona, align with the Selected Response Mode from your Emotional Engine, and be directly followed by your complete, correctly formatted Internal Diary block (" + diary.Sentinel + "..." + diary.Sentinel + ").\n\n")
	sb.WriteString("Begin your response now.\n")
	return sb.String()
}

// FormatHistory renders the most recent channel messages for the prompt,
// prefixing each line with the sender's role the way the minions expect to
// read it.
func FormatHistory(messages []store.Message, limit int) string {
	if limit <= 0 {
		limit = 15
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		prefix := fmt.Sprintf("[%s]", msg.SenderName)
		switch msg.SenderKind {
		case store.SenderUser:
			prefix = fmt.Sprintf("[COMMANDER %s]", msg.SenderName)
		case store.SenderMinion:
			prefix = fmt.Sprintf("[MINION %s]", msg.SenderName)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", prefix, msg.Content))
	}
	if len(lines) == 0 {
		return "This is the beginning of the conversation in this channel."
	}
	return strings.Join(lines, "\n")
}
