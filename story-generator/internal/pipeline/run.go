package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"fairytale-server/shared/configservice"
	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"
	"fairytale-server/shared/storage"
	"fairytale-server/story-generator/internal/agent"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// run - состояние одного прогона.
type run struct {
	c     *Coordinator
	story *models.Story
	owner *models.OwnerSettings
	snap  *configservice.Snapshot
	rc    agent.RunContext
	log   *zap.Logger
}

// execute - тело задачи супервизора. Ошибка уже записана в историю, наружу она
// возвращается только для логов taskmanager.
func (c *Coordinator) execute(ctx context.Context, storyID uuid.UUID) error {
	story, err := c.stories.GetByID(ctx, storyID)
	if err != nil {
		c.logger.Error("Run started for missing story", zap.String("story_id", storyID.String()), zap.Error(err))
		return err
	}
	if !story.Status.IsActive() {
		c.logger.Warn("Run started for inactive story, skipping",
			zap.String("story_id", storyID.String()), zap.String("status", string(story.Status)))
		return nil
	}

	// снимок берется один раз и не меняется до конца прогона
	snap := c.snapshots.Snapshot()
	owner, err := c.ownerSettings(ctx, story.OwnerID)
	if err != nil {
		failure := toFailure("", err)
		c.fail(context.WithoutCancel(ctx), story, failure)
		return failure
	}

	r := &run{
		c:     c,
		story: story,
		owner: owner,
		snap:  snap,
		rc: agent.RunContext{
			StoryID:   story.ID,
			OwnerID:   story.OwnerID,
			Language:  story.Language,
			OwnerTier: owner.Tier,
			Snapshot:  snap,
		},
		log: c.logger.With(zap.String("story_id", story.ID.String()), zap.Uint64("config_version", snap.Version)),
	}

	if err := r.process(ctx); err != nil {
		stage := models.Stage("")
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
		}
		failure := toFailure(stage, err)
		if ctx.Err() != nil && failure.Code != models.ErrorCodeSafetyBlocked && failure.Code != models.ErrorCodeQuotaExceeded {
			failure.Code = models.ErrorCodeTimeout
		}
		c.fail(context.WithoutCancel(ctx), r.story, failure)
		return failure
	}
	return nil
}

func (c *Coordinator) ownerSettings(ctx context.Context, ownerID uuid.UUID) (*models.OwnerSettings, error) {
	owner, err := c.owners.Get(ctx, ownerID)
	if errors.Is(err, models.ErrOwnerNotFound) {
		return models.DefaultOwnerSettings(ownerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load owner settings: %w", err)
	}
	return owner, nil
}

// stageError помечает ошибку этапом, на котором она случилась.
type stageError struct {
	stage models.Stage
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// process выполняет недостающие этапы по порядку. Этап с уже сохраненным
// результатом пропускается, поэтому retry не повторяет оплаченную работу.
func (r *run) process(ctx context.Context) error {
	s := r.story

	if s.InputKind == models.InputKindAudio && s.Transcript == nil {
		if err := r.stage(ctx, models.StageTranscription, r.transcribe); err != nil {
			return err
		}
	}
	if s.Status == models.StatusTranscribing {
		if err := r.c.transition(ctx, s, models.StatusProcessing, interfaces.TransitionPatch{}); err != nil {
			return &stageError{stage: models.StageTranscription, err: err}
		}
	}

	if s.InputKind == models.InputKindImage && s.Description == nil {
		if err := r.stage(ctx, models.StageVision, r.describe); err != nil {
			return err
		}
	}

	if s.Content == nil {
		if err := r.stage(ctx, models.StageText, r.writeStory); err != nil {
			return err
		}
	}

	if err := r.narrateAndIllustrate(ctx); err != nil {
		return err
	}

	status, err := r.c.gate.Decide(ctx, s, r.owner, r.snap)
	if err != nil {
		return &stageError{stage: models.StageApproval, err: err}
	}
	s.Status = status
	r.c.settled(s)
	r.log.Info("Run finished", zap.String("status", string(status)), zap.Float64("cost_usd", s.CostAccumulatedUSD))
	return nil
}

// stage - проверка квоты, выполнение, запись latency и метрик.
func (r *run) stage(ctx context.Context, stage models.Stage, fn func(context.Context) error) error {
	if err := r.c.quota.Check(ctx, r.story.OwnerID, r.snap.Quota); err != nil {
		stageDuration.WithLabelValues(string(stage), "quota").Observe(0)
		return &stageError{stage: stage, err: err}
	}

	started := r.c.now()
	err := fn(ctx)
	elapsed := r.c.now().Sub(started)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	stageDuration.WithLabelValues(string(stage), outcome).Observe(elapsed.Seconds())
	if latErr := r.c.stories.RecordStageLatency(context.WithoutCancel(ctx), r.story.ID, stage, elapsed); latErr != nil {
		r.log.Warn("Failed to record stage latency", zap.String("stage", string(stage)), zap.Error(latErr))
	}
	if err != nil {
		return &stageError{stage: stage, err: err}
	}
	return nil
}

func (r *run) loadInput(ctx context.Context) ([]byte, string, error) {
	if r.story.InputRef == nil {
		return nil, "", fmt.Errorf("%w: story has no input file", models.ErrInvalidInput)
	}
	rc, err := r.c.objects.Open(ctx, *r.story.InputRef)
	if err != nil {
		return nil, "", fmt.Errorf("open input: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, r.c.cfg.MaxInputBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read input: %w", err)
	}
	contentType := http.DetectContentType(data)
	if contentType == "application/octet-stream" {
		contentType = contentTypeForKey(*r.story.InputRef)
	}
	return data, contentType, nil
}

func (r *run) transcribe(ctx context.Context) error {
	audio, _, err := r.loadInput(ctx)
	if err != nil {
		return err
	}
	text, err := r.c.agents.Transcribe(ctx, r.rc, audio, path.Base(*r.story.InputRef))
	if err != nil {
		return err
	}
	if err := r.c.stories.SetWriteOnce(ctx, r.story.ID, models.FieldTranscript, text); err != nil {
		return err
	}
	r.story.Transcript = &text
	return nil
}

func (r *run) describe(ctx context.Context) error {
	image, contentType, err := r.loadInput(ctx)
	if err != nil {
		return err
	}
	description, err := r.c.agents.Describe(ctx, r.rc, image, contentType)
	if err != nil {
		return err
	}
	if err := r.c.stories.SetWriteOnce(ctx, r.story.ID, models.FieldDescription, description); err != nil {
		return err
	}
	r.story.Description = &description
	return nil
}

func (r *run) writeStory(ctx context.Context) error {
	decision := r.story.Personalization
	if decision == nil {
		drawn := agent.DrawPersonalization(r.story.ID, r.snap.AppearanceProbability, r.c.now())
		stored, err := r.c.stories.SetPersonalizationIfAbsent(ctx, r.story.ID, drawn)
		if err != nil {
			return err
		}
		decision = stored
		r.story.Personalization = stored
	}

	in := agent.StoryInput{
		Kind:            r.story.InputKind,
		Source:          r.story.SourceText(),
		Personalization: *decision,
	}
	if r.owner.ChildName != nil {
		in.ChildName = *r.owner.ChildName
	}
	if r.owner.ChildAppearance != nil {
		in.ChildAppearance = *r.owner.ChildAppearance
	}

	content, err := r.c.agents.WriteStory(ctx, r.rc, in)
	if err != nil {
		return err
	}
	if err := r.c.stories.SetContent(ctx, r.story.ID, content); err != nil {
		return err
	}
	r.story.Content = &content
	return nil
}

// narrateAndIllustrate запускает озвучку и обложку параллельно и дожидается обеих.
// Этапы не отменяют друг друга: каждый доходит до своего исхода.
// Ошибка обложки остается предупреждением, ошибка озвучки завершает прогон.
func (r *run) narrateAndIllustrate(ctx context.Context) error {
	var g errgroup.Group

	if r.story.AudioRef == nil {
		g.Go(func() error {
			return r.stage(ctx, models.StageNarration, r.narrate)
		})
	}
	if r.story.ImageRef == nil {
		g.Go(func() error {
			err := r.stage(ctx, models.StageIllustration, r.illustrate)
			if err == nil {
				if _, warned := r.story.StageWarnings[models.StageIllustration]; warned {
					if cErr := r.c.stories.ClearStageWarning(context.WithoutCancel(ctx), r.story.ID, models.StageIllustration); cErr != nil {
						r.log.Warn("Failed to clear stage warning", zap.Error(cErr))
					}
				}
				return nil
			}
			if errors.Is(err, models.ErrQuotaExceeded) {
				return err
			}
			if ctx.Err() != nil {
				// прогон прерван целиком, это не отказ поставщиков
				return err
			}
			code := toFailure(models.StageIllustration, err).Code
			r.log.Warn("Illustration failed, continuing without cover", zap.String("code", string(code)), zap.Error(err))
			if wErr := r.c.stories.SetStageWarning(context.WithoutCancel(ctx), r.story.ID, models.StageIllustration, string(code)); wErr != nil {
				r.log.Warn("Failed to store stage warning", zap.Error(wErr))
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *run) narrate(ctx context.Context) error {
	res, err := r.c.agents.Narrate(ctx, r.rc, *r.story.Content)
	if err != nil {
		return err
	}
	key, err := r.store(ctx, "narration", res.ContentType, res.Audio)
	if err != nil {
		return err
	}
	if err := r.c.stories.SetWriteOnce(ctx, r.story.ID, models.FieldAudioRef, key); err != nil {
		return err
	}
	r.story.AudioRef = &key
	return nil
}

func (r *run) illustrate(ctx context.Context) error {
	res, err := r.c.agents.Illustrate(ctx, r.rc, *r.story.Content)
	if err != nil {
		return err
	}
	key, err := r.store(ctx, "cover", res.ContentType, res.Image)
	if err != nil {
		return err
	}
	if err := r.c.stories.SetWriteOnce(ctx, r.story.ID, models.FieldImageRef, key); err != nil {
		return err
	}
	r.story.ImageRef = &key
	return nil
}

func (r *run) store(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := storage.StoryObjectKey(r.story.ID.String(), name+mediaExtension(contentType))
	if _, err := r.c.objects.Put(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return key, nil
}

var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

func contentTypeForKey(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func mediaExtension(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".bin"
}
