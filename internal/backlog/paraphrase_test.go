package backlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

type fakeCompleter struct {
	reply  string
	err    error
	system string
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.reply, f.err
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"plain array", `["где мудл", "как зайти в moodle"]`, []string{"где мудл", "как зайти в moodle"}},
		{"fenced", "```json\n[\"a\"]\n```", []string{"a"}},
		{"bullets and spaces stripped", `["- где   мудл", "• moodle"]`, []string{"где мудл", "moodle"}},
		{"case-insensitive duplicates", `["Moodle", "moodle", "MOODLE "]`, []string{"Moodle"}},
		{"non-strings and blanks dropped", `["a", 3, null, " ", {"x": 1}]`, []string{"a"}},
		{"empty array", `[]`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVariants(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVariants_NotAnArray(t *testing.T) {
	_, err := ParseVariants("Here are some paraphrases: 1. ...")

	assert.True(t, qaerrors.HasCode(err, qaerrors.ErrCodeLLMFailed))
}

func TestLLMParaphraser_PromptPerLanguage(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"kk", "Төмендегі сұраққа 12 түрлі қазақша нұсқа жаса."},
		{"ru", "Сделай 12 разных русских перефраз вопроса."},
		{"en", "Create 12 different English paraphrases of the question."},
		{"", "Create 12 different English paraphrases of the question."},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			c := &fakeCompleter{reply: `["x"]`}
			p := NewLLMParaphraser(c)

			got, err := p.Paraphrase(context.Background(), " - мудль ", tt.lang, 12)

			require.NoError(t, err)
			assert.Equal(t, []string{"x"}, got)
			assert.Contains(t, c.prompt, tt.want)
			assert.Contains(t, c.prompt, ": мудль")
			assert.Equal(t, paraphraseSystem, c.system)
		})
	}
}

func TestLLMParaphraser_EmptyBaseSkipsModel(t *testing.T) {
	c := &fakeCompleter{}
	p := NewLLMParaphraser(c)

	got, err := p.Paraphrase(context.Background(), "  ", "ru", 12)

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, c.prompt)
}

func TestLLMParaphraser_PropagatesErrors(t *testing.T) {
	failure := qaerrors.New(qaerrors.ErrCodeLLMFailed, "down", nil)
	p := NewLLMParaphraser(&fakeCompleter{err: failure})

	_, err := p.Paraphrase(context.Background(), "gpa", "en", 3)

	assert.ErrorIs(t, err, failure)
}
