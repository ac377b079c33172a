package agent

import (
	"context"

	"fairytale-server/shared/models"
	"fairytale-server/story-generator/internal/provider"
)

// Transcribe расшифровывает голосовую заметку.
func (a *Agents) Transcribe(ctx context.Context, rc RunContext, audio []byte, fileName string) (string, error) {
	res, err := run(ctx, a, rc, models.OperationTranscription, models.StageTranscription,
		func(ctx context.Context, c models.VendorCandidate) (provider.TranscriptionResult, provider.Usage, error) {
			client, err := lookup(a.registry.Transcription, c.Vendor)
			if err != nil {
				return provider.TranscriptionResult{}, provider.Usage{}, err
			}
			return client.Transcribe(ctx, provider.TranscriptionRequest{
				Call:     provider.Call{Model: c.Model, Params: c.Params},
				Audio:    audio,
				FileName: fileName,
				Language: rc.Language,
			})
		})
	return res.Text, err
}

// Describe описывает рисунок.
func (a *Agents) Describe(ctx context.Context, rc RunContext, image []byte, mimeType string) (string, error) {
	res, err := run(ctx, a, rc, models.OperationVision, models.StageVision,
		func(ctx context.Context, c models.VendorCandidate) (provider.VisionResult, provider.Usage, error) {
			client, err := lookup(a.registry.Vision, c.Vendor)
			if err != nil {
				return provider.VisionResult{}, provider.Usage{}, err
			}
			return client.DescribeImage(ctx, provider.VisionRequest{
				Call:     provider.Call{Model: c.Model, Params: c.Params},
				Image:    image,
				MIMEType: mimeType,
				Language: rc.Language,
			})
		})
	return res.Description, err
}

// WriteStory генерирует текст сказки по исходному материалу и решению о персонализации.
func (a *Agents) WriteStory(ctx context.Context, rc RunContext, in StoryInput) (models.StoryContent, error) {
	system, user, err := BuildStoryPrompts(rc, in)
	if err != nil {
		return models.StoryContent{}, &StageFailure{Stage: models.StageText, Code: models.ErrorCodeInternal, Err: err}
	}
	res, err := run(ctx, a, rc, models.OperationText, models.StageText,
		func(ctx context.Context, c models.VendorCandidate) (provider.TextResult, provider.Usage, error) {
			client, err := lookup(a.registry.Text, c.Vendor)
			if err != nil {
				return provider.TextResult{}, provider.Usage{}, err
			}
			return client.GenerateStory(ctx, provider.TextRequest{
				Call:         provider.Call{Model: c.Model, Params: c.Params},
				SystemPrompt: system,
				UserPrompt:   user,
			})
		})
	if err != nil {
		return models.StoryContent{}, err
	}
	return models.StoryContent{Title: res.Title, Body: res.Body}, nil
}

// Narrate озвучивает готовую сказку.
func (a *Agents) Narrate(ctx context.Context, rc RunContext, content models.StoryContent) (provider.SpeechResult, error) {
	return run(ctx, a, rc, models.OperationSpeech, models.StageNarration,
		func(ctx context.Context, c models.VendorCandidate) (provider.SpeechResult, provider.Usage, error) {
			client, err := lookup(a.registry.Speech, c.Vendor)
			if err != nil {
				return provider.SpeechResult{}, provider.Usage{}, err
			}
			return client.Synthesize(ctx, provider.SpeechRequest{
				Call:     provider.Call{Model: c.Model, Params: c.Params},
				Text:     content.Title + ".\n\n" + content.Body,
				Language: rc.Language,
			})
		})
}

// Illustrate рисует обложку по тексту сказки.
func (a *Agents) Illustrate(ctx context.Context, rc RunContext, content models.StoryContent) (provider.ImageResult, error) {
	prompt := BuildIllustrationPrompt(content)
	return run(ctx, a, rc, models.OperationImage, models.StageIllustration,
		func(ctx context.Context, c models.VendorCandidate) (provider.ImageResult, provider.Usage, error) {
			client, err := lookup(a.registry.Image, c.Vendor)
			if err != nil {
				return provider.ImageResult{}, provider.Usage{}, err
			}
			return client.GenerateImage(ctx, provider.ImageRequest{
				Call:   provider.Call{Model: c.Model, Params: c.Params},
				Prompt: prompt,
			})
		})
}
