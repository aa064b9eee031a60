package followup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectElaboration(t *testing.T) {
	tests := []struct {
		utterance string
		want      bool
	}{
		{"Can you tell me more about that?", true},
		{"  ELABORATE please", true},
		{"Could you explain how the system works?", true},
		{"Sabihin mo pa tungkol diyan", true},
		{"kwento mo pa", true},
		{"What's your GPA?", false},
		{"Where did you study?", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectElaboration(tt.utterance))
		})
	}
}

func TestIsVague(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		want      bool
	}{
		{"single affirmation", "yes", true},
		{"short", "It was fine I guess", true},
		{"empty", "   ", true},
		{"detailed", "I led a team of fifteen students across three departments for two semesters", false},
		{"long affirmation", "Yes, we shipped the enrollment system to the registrar after two long semesters of testing", true},
		{"long tagalog affirmation", "Oo, natapos namin ang proyekto pagkatapos ng dalawang semestre ng trabaho kasama ang buong team", true},
		{"long dont know", "Honestly I don't know what I would change about the project if I could start over again", true},
		{"long tagalog dont know", "Sa totoo lang walang alam ako tungkol sa bahaging iyon ng proyekto noong una pa lang kami", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVague(tt.utterance))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Elaboration, Classify("tell me more"))
	assert.Equal(t, Vague, Classify("ok"))
	assert.Equal(t, Normal, Classify("I led a team of fifteen students across three departments for two semesters"))
	assert.Equal(t, "elaboration", Elaboration.String())
	assert.Equal(t, "vague", Vague.String())
	assert.Equal(t, "normal", Normal.String())
}

func TestExtractTopics(t *testing.T) {
	topics := ExtractTopics(
		"My biggest achievement was a project where leadership and teamwork mattered, plus a lot of learning and growth.",
		"What challenge shaped your career?",
	)
	// keyword order, capped
	assert.Equal(t, []string{"achievement", "project", "challenge", "learning", "growth"}, topics)

	assert.Empty(t, ExtractTopics("nothing relevant", "hello"))
}

func TestFallback(t *testing.T) {
	for _, topic := range []string{"leadership", "the enrollment system", "career", "x"} {
		t.Run(topic, func(t *testing.T) {
			text := Fallback(topic)
			assert.Contains(t, text, topic)
			assert.Contains(t, text, "\n\n")
			assert.Equal(t, text, Fallback(topic))
		})
	}
	assert.Contains(t, Fallback("  "), defaultTopic)
}

func TestParseDepthAndScenario(t *testing.T) {
	d, err := ParseDepth("")
	assert.NoError(t, err)
	assert.Equal(t, Moderate, d)
	d, err = ParseDepth("DEEP")
	assert.NoError(t, err)
	assert.Equal(t, Deep, d)
	_, err = ParseDepth("bottomless")
	assert.ErrorIs(t, err, ErrFollowUp)

	sc, err := ParseScenario(" Leadership ")
	assert.NoError(t, err)
	assert.Equal(t, ScenarioLeadership, sc)
	_, err = ParseScenario("hobbies")
	assert.ErrorIs(t, err, ErrFollowUp)
}
