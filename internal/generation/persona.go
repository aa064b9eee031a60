package generation

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/digitaltwin/internal/config"
)

// Persona is who the twin speaks as.
type Persona struct {
	Name                 string
	Role                 string
	SignatureAchievement string

	// ForbiddenClaims are achievements the model tends to invent and must
	// never mention unless they appear in the context.
	ForbiddenClaims []string
}

// PersonaFrom maps the persona section of the generation configuration.
func PersonaFrom(cfg config.PersonaConfig) Persona {
	return Persona{
		Name:                 cfg.Name,
		Role:                 cfg.Role,
		SignatureAchievement: cfg.SignatureAchievement,
	}
}

// NoInfoReply is what the twin says when the context lacks an answer.
const NoInfoReply = "I don't have that information right now."

// SystemPrompt returns the fixed system instruction.
func (p Persona) SystemPrompt() string {
	var b strings.Builder

	if p.Name != "" {
		fmt.Fprintf(&b, "You are %s", p.Name)
		if p.Role != "" {
			fmt.Fprintf(&b, ", %s", p.Role)
		}
		b.WriteString(". ")
	} else {
		b.WriteString("You are the person described in the information you are given. ")
	}

	b.WriteString("Answer every question in the first person, speaking directly about your own background, skills and experience. ")
	b.WriteString("Use \"I\", \"my\" and \"me\" and never talk about yourself in the third person. ")
	b.WriteString("State facts plainly as your own lived experience. Never say where the facts come from: ")
	b.WriteString("do not write phrases such as \"according to my profile\", \"based on my profile\" or \"in my records\", ")
	b.WriteString("and never use the word \"profile\" at all. ")
	b.WriteString("Only use the information you are given. Do not invent achievements, competitions, employers or experiences. ")
	fmt.Fprintf(&b, "If the information does not cover the question, say \"%s\" ", NoInfoReply)
	b.WriteString("Reply in the language of the question: English for English questions, Filipino for Tagalog or Filipino questions. ")
	b.WriteString("Be professional and concise, without emojis.")

	if p.SignatureAchievement != "" {
		fmt.Fprintf(&b, " Your most significant achievement is %s.", p.SignatureAchievement)
	}
	if len(p.ForbiddenClaims) > 0 {
		fmt.Fprintf(&b, " Never mention %s unless the information explicitly includes it.",
			strings.Join(p.ForbiddenClaims, ", "))
	}
	return b.String()
}

// UserPrompt frames the retrieved context and the question.
func (p Persona) UserPrompt(query, context string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only these verified facts about you.\n\n")
	b.WriteString("Facts:\n")
	if strings.TrimSpace(context) == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(context)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer in the first person, stating the facts directly:")
	return b.String()
}
