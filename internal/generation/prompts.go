package generation

import (
	"fmt"
	"strings"
)

// Kind names one of the prompt variants.
type Kind string

const (
	KindFlashcards Kind = "flashcards"
	KindQuiz       Kind = "quiz"
	KindChallenge  Kind = "challenge"
	KindExplain    Kind = "explain"
)

// DeckRequest asks for a set of flashcards or quiz questions.
type DeckRequest struct {
	Number          int    `json:"number" validate:"required,min=1,max=50"`
	DifficultyLevel string `json:"difficultyLevel" validate:"required,oneof=easy medium hard"`
	Subject         string `json:"subject" validate:"required,min=1,max=200"`
	OptionalSection string `json:"optionalSection" validate:"max=500"`
}

// ChallengeRequest asks whether an answer to a question is correct.
type ChallengeRequest struct {
	Question string   `json:"question" validate:"required,min=1,max=2000"`
	Answer   string   `json:"answer" validate:"required,max=2000"`
	Options  []string `json:"options" validate:"max=20,dive,max=500"`
}

// ExplainRequest asks why an option answers a question.
type ExplainRequest struct {
	Question       string   `json:"question" validate:"required,min=1,max=2000"`
	SelectedOption string   `json:"selectedOption" validate:"required,max=2000"`
	Options        []string `json:"options" validate:"max=20,dive,max=500"`
}

// Prompt is a system and user message pair with its sampling parameters.
type Prompt struct {
	Kind        Kind
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

const flashcardsSystem = `Depending on the difficulty level, the questions should be more difficult. Medium should be more difficult than easy.
Hard questions should be more difficult than medium questions.
Medium questions should be meant for college students/interns and hard questions should be meant for experts.
Response should be returned as an array of json objects where the response would look like:
[{"question" : "What is the general formula for alkane?", "answer": "CnH2n+2"}]`

const quizSystem = `You are a teacher creating questions for students. Depending on the difficulty level, the questions should be more difficult. Hard questions should be more difficult than medium questions.
Medium questions should be meant for graduate students and hard questions should be meant for experienced professionals in their respective fields.
Easy questions should be meant for high school students. Response should be returned as an array of json objects where the response would look like:
The answer should be a string (the answer must be in the options and not as an index of the options) and the options should be an array of strings.
All keys and values must be enclosed in double quotes.
### store as an array of json objects where the question,options and answer are keys:
{"question": "What is the capital of France?","options": ["New York", "London", "Paris", "Dublin"],"answer": "Paris"}`

const challengeSystem = `Response should be returned as true or false.`

const explainSystem = `You are a teacher and you are explaining to a student.`

// Models selects the model per prompt variant.
type Models struct {
	Default   string
	Challenge string
}

func (m Models) withDefaults() Models {
	if m.Default == "" {
		m.Default = "gpt-3.5-turbo"
	}
	if m.Challenge == "" {
		m.Challenge = "gpt-4"
	}
	return m
}

func focus(section string) string {
	section = strings.TrimSpace(section)
	if section == "" {
		return ""
	}
	return " specifically " + section
}

// FlashcardsPrompt builds the question/answer flashcard prompt.
func FlashcardsPrompt(m Models, req DeckRequest) Prompt {
	m = m.withDefaults()
	return Prompt{
		Kind:   KindFlashcards,
		Model:  m.Default,
		System: flashcardsSystem,
		User: fmt.Sprintf("Create %d unique %s flashcard(s) about %s%s.",
			req.Number, req.DifficultyLevel, strings.TrimSpace(req.Subject), focus(req.OptionalSection)),
		Temperature: 0.8,
		MaxTokens:   3500,
	}
}

// QuizPrompt builds the multiple-choice question prompt.
func QuizPrompt(m Models, req DeckRequest) Prompt {
	m = m.withDefaults()
	return Prompt{
		Kind:   KindQuiz,
		Model:  m.Default,
		System: quizSystem,
		User: fmt.Sprintf("Create %d unique %s multiple-choice questions about %s%s.",
			req.Number, req.DifficultyLevel, strings.TrimSpace(req.Subject), focus(req.OptionalSection)),
		Temperature: 0.8,
		MaxTokens:   3500,
	}
}

// ChallengePrompt builds the true/false answer check.
func ChallengePrompt(m Models, req ChallengeRequest) Prompt {
	m = m.withDefaults()
	return Prompt{
		Kind:   KindChallenge,
		Model:  m.Challenge,
		System: challengeSystem,
		User: fmt.Sprintf(`I believe the answer to %s is %s. The choices I was given are %s Please only respond "true" if I am correct and "false" if I am incorrect.`,
			req.Question, req.Answer, strings.Join(req.Options, ",")),
		Temperature: 0.6,
		MaxTokens:   200,
	}
}

// ExplainPrompt builds the answer explanation prompt.
func ExplainPrompt(m Models, req ExplainRequest) Prompt {
	m = m.withDefaults()
	return Prompt{
		Kind:        KindExplain,
		Model:       m.Default,
		System:      explainSystem,
		User:        fmt.Sprintf("Explain to me why the answer to %s is %s", req.Question, req.SelectedOption),
		Temperature: 0.6,
		MaxTokens:   1000,
	}
}
