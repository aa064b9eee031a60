package followup

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// fallbackTemplates are used when the model cannot be reached. Each takes
// the topic once.
var fallbackTemplates = []string{
	"That's really interesting! I'd love to hear more about %s. Which parts of it stand out most when you look back on it now? What made it meaningful, or difficult?\n\n" +
		"Thinking back, what were the moments that defined it for you? I'm curious not just about what happened, but about how it shaped the way you handle similar situations today. Which lessons do you still carry with you?",

	"Thank you for sharing about %s. I'd like to understand it better. Can you walk me through the details? What was going through your mind at the time, and how did you approach the challenges and opportunities that came up?\n\n" +
		"I'm also interested in how it connects to the rest of your life and work. Did it change your goals, your values or the way you approach new situations? What was its most significant impact, both then and in the long run?",

	"I appreciate you opening up about %s. It sounds like there is a lot more to explore here. Which decisions really mattered along the way? How did you work through the different phases?\n\n" +
		"Looking back, what stands out most? Are there parts you are especially proud of, or lessons that surprised you? I'd love to understand how it has influenced your thinking and who you are today.",
}

// defaultTopic fills the templates when no topic is known.
const defaultTopic = "that experience"

// Fallback returns a canned multi-paragraph follow-up about topic. The
// same topic always yields the same template.
func Fallback(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = defaultTopic
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return fmt.Sprintf(fallbackTemplates[h.Sum32()%uint32(len(fallbackTemplates))], topic)
}

// maxTopics caps ExtractTopics.
const maxTopics = 5

var topicKeywords = []string{
	"achievement", "project", "challenge", "experience", "skill",
	"learning", "growth", "teamwork", "leadership", "problem-solving",
	"career", "education", "goal", "passion", "hobby",
}

// ExtractTopics returns the known topic keywords present in the question
// and reply, in keyword order, at most five.
func ExtractTopics(userResponse, previousQuestion string) []string {
	text := strings.ToLower(previousQuestion + " " + userResponse)
	topics := make([]string, 0, maxTopics)
	for _, kw := range topicKeywords {
		if strings.Contains(text, kw) {
			topics = append(topics, kw)
			if len(topics) == maxTopics {
				break
			}
		}
	}
	return topics
}
