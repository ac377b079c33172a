package agent

import (
	"fmt"
	"strings"
	"text/template"

	"fairytale-server/shared/models"
)

// StoryInput - исходные данные для генерации текста.
type StoryInput struct {
	Kind            models.InputKind
	Source          string // описание рисунка, расшифровка или набранный текст
	ChildName       string
	ChildAppearance string
	Personalization models.PersonalizationDecision
}

var systemPromptTmpl = template.Must(template.New("system").Parse(
	`You are a gentle storyteller for young children.
Write an original bedtime story in the language with code "{{.Language}}".
The story must be kind, calm and free of violence or frightening scenes.
Length: about {{.Words}} words.
{{- if .Name}}
The main character is named {{.Name}}.
{{- end}}
{{- if .Appearance}}
The main character looks like this: {{.Appearance}}.
{{- end}}
Respond only with a JSON object: {"title": "<short title>", "body": "<story text>"}.`))

var userPromptTmpl = template.Must(template.New("user").Parse(
	`{{if eq .Kind "image"}}The child drew this picture: {{.Source}}
{{- else if eq .Kind "audio"}}The child told this idea out loud: {{.Source}}
{{- else}}The child wrote: {{.Source}}{{end}}
Turn it into a story.`))

func storyLength(tier string) int {
	if tier == "premium" {
		return 600
	}
	return 350
}

// BuildStoryPrompts собирает system и user промпты для генерации сказки.
// Имя и внешность попадают в промпт, только если так выпала монетка.
func BuildStoryPrompts(rc RunContext, in StoryInput) (string, string, error) {
	if strings.TrimSpace(in.Source) == "" {
		return "", "", fmt.Errorf("empty source text for %s input", in.Kind)
	}

	data := struct {
		Language   string
		Words      int
		Name       string
		Appearance string
	}{Language: rc.Language, Words: storyLength(rc.OwnerTier)}
	if in.Personalization.IncludeName {
		data.Name = strings.TrimSpace(in.ChildName)
	}
	if in.Personalization.IncludeAppearance {
		data.Appearance = strings.TrimSpace(in.ChildAppearance)
	}

	var system, user strings.Builder
	if err := systemPromptTmpl.Execute(&system, data); err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	if err := userPromptTmpl.Execute(&user, struct {
		Kind   string
		Source string
	}{Kind: string(in.Kind), Source: strings.TrimSpace(in.Source)}); err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	return system.String(), user.String(), nil
}

// BuildIllustrationPrompt - промпт для обложки.
func BuildIllustrationPrompt(content models.StoryContent) string {
	body := content.Body
	if r := []rune(body); len(r) > 400 {
		body = string(r[:400])
	}
	return fmt.Sprintf("Soft watercolor children's book cover illustration, no text. Story \"%s\": %s",
		content.Title, body)
}
