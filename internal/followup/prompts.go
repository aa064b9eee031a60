package followup

import (
	"fmt"
	"strings"
)

// Scenario selects the focus of an interview follow-up.
type Scenario string

const (
	ScenarioAchievement Scenario = "achievement"
	ScenarioChallenge   Scenario = "challenge"
	ScenarioLeadership  Scenario = "leadership"
	ScenarioTechnical   Scenario = "technical"
	ScenarioCareer      Scenario = "career"
)

// ParseScenario accepts one of the five scenario names, case-insensitively.
func ParseScenario(s string) (Scenario, error) {
	sc := Scenario(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := scenarioFocus[sc]; !ok {
		return "", fmt.Errorf("%w: unknown scenario %q", ErrFollowUp, s)
	}
	return sc, nil
}

var scenarioFocus = map[Scenario]string{
	ScenarioAchievement: "Ask a follow-up question about achievements that explores:\n" +
		"- The specific skills or strengths they showed\n" +
		"- The obstacles they overcame\n" +
		"- What the experience taught them\n" +
		"- How it relates to their career goals",
	ScenarioChallenge: "Ask a follow-up question about challenges that explores:\n" +
		"- How they approach problems\n" +
		"- How they handled setbacks\n" +
		"- What the difficulty taught them\n" +
		"- How it helped them grow",
	ScenarioLeadership: "Ask a follow-up question about leadership that explores:\n" +
		"- Their leadership style and philosophy\n" +
		"- How they motivated or supported their team\n" +
		"- Specific decisions they made and why\n" +
		"- The impact they had on others",
	ScenarioTechnical: "Ask a follow-up question about technical work that explores:\n" +
		"- The technologies and tools they used\n" +
		"- How they approach technical problems\n" +
		"- How they picked up new skills\n" +
		"- The complexity and scope of the work",
	ScenarioCareer: "Ask a follow-up question about their career that explores:\n" +
		"- Their long-term professional goals\n" +
		"- What motivates them\n" +
		"- How past experiences shape their path\n" +
		"- The skills they want to develop",
}

const conversationRules = `Your follow-up questions must:

1. Acknowledge the reply: start by reflecting on what they just shared
2. Go deeper: move the conversation forward with meaningful, thought-provoking questions
3. Run 2-3 paragraphs with natural transitions, never a single short sentence
4. Stay open-ended so they invite detailed answers
5. Sound professional yet personable
6. Connect directly to what the user just said

FORMAT:
- 2-3 coherent paragraphs of 3-5 sentences each
- No yes/no questions: ask "why", "how", "what was it like", "can you describe"
- No bullet points or lists, conversational prose only`

func (g *Generator) conversationSystemPrompt(wantsMore, vague bool, depth Depth) string {
	var b strings.Builder
	if g.name != "" {
		fmt.Fprintf(&b, "You are %s's digital twin, holding a natural, thoughtful conversation. ", g.name)
	} else {
		b.WriteString("You are a digital twin holding a natural, thoughtful conversation. ")
	}
	b.WriteString(conversationRules)

	if wantsMore {
		b.WriteString("\n\nThe user wants MORE on the same topic. Keep exploring it with deeper, more specific questions about aspects not yet covered.")
	}
	if vague {
		b.WriteString("\n\nThe user's reply was brief or vague. Ask questions that help them elaborate, explain their thinking or share specific examples.")
	}
	switch depth {
	case Deep:
		b.WriteString("\n\nGo DEEP: ask about motivations, feelings, lessons learned, the impact on their life and how it connects to larger goals.")
	case Shallow:
		b.WriteString("\n\nKeep it light: ask about concrete facts and examples without getting philosophical.")
	}
	return b.String()
}

func conversationUserPrompt(previousQuestion, userResponse, convo string, intent Intent, wantsMore, vague bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONVERSATION CONTEXT:\n%s\n\n", convo)
	fmt.Fprintf(&b, "PREVIOUS QUESTION:\n%s\n\n", previousQuestion)
	fmt.Fprintf(&b, "USER'S RESPONSE:\n%s\n\n", userResponse)
	fmt.Fprintf(&b, "ANALYSIS:\n- User wants more elaboration: %s\n- Response was vague or short: %s\n\n", yesNo(wantsMore), yesNo(vague))
	b.WriteString("TASK:\nWrite a 2-3 paragraph follow-up question that:")

	switch intent {
	case Elaboration:
		b.WriteString("\n1. Acknowledges their interest in learning more" +
			"\n2. Digs into the same topic from angles not explored yet" +
			"\n3. Asks about specific aspects, examples or implications")
	case Vague:
		b.WriteString("\n1. Gently acknowledges their reply" +
			"\n2. Invites them to elaborate with specific examples" +
			"\n3. Helps them share more about their experience or perspective")
	default:
		b.WriteString("\n1. Reflects on what they just shared" +
			"\n2. Asks WHY, HOW or WHAT IT MEANT" +
			"\n3. Connects to related aspects they might enjoy discussing")
	}

	b.WriteString("\n\nWrite the follow-up question now (2-3 paragraphs, conversational tone):")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}
