package pipeline

import (
	"context"
	"errors"
	"fmt"

	"fairytale-server/shared/models"
	"fairytale-server/story-generator/internal/agent"
)

// PipelineFailure - итог неудачного прогона. Только он попадает в errorDetail истории.
type PipelineFailure struct {
	Code  models.ErrorCode
	Stage models.Stage
	Err   error
}

func (f *PipelineFailure) Error() string {
	if f.Stage == "" {
		return fmt.Sprintf("pipeline failed: %s: %v", f.Code, f.Err)
	}
	return fmt.Sprintf("pipeline failed at %s: %s: %v", f.Stage, f.Code, f.Err)
}

func (f *PipelineFailure) Unwrap() error { return f.Err }

// Detail - безопасное для клиента представление, без текста исходной ошибки.
func (f *PipelineFailure) Detail() models.ErrorDetail {
	return models.ErrorDetail{Code: f.Code, Stage: f.Stage}
}

// toFailure сводит любую ошибку этапа к PipelineFailure.
func toFailure(stage models.Stage, err error) *PipelineFailure {
	var pf *PipelineFailure
	if errors.As(err, &pf) {
		return pf
	}
	if sf, ok := agent.AsStageFailure(err); ok {
		return &PipelineFailure{Code: sf.Code, Stage: sf.Stage, Err: err}
	}
	switch {
	case errors.Is(err, models.ErrQuotaExceeded):
		return &PipelineFailure{Code: models.ErrorCodeQuotaExceeded, Stage: stage, Err: err}
	case errors.Is(err, models.ErrNoVendorConfigured):
		return &PipelineFailure{Code: models.ErrorCodeNoVendor, Stage: stage, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &PipelineFailure{Code: models.ErrorCodeTimeout, Stage: stage, Err: err}
	default:
		return &PipelineFailure{Code: models.ErrorCodeInternal, Stage: stage, Err: err}
	}
}
