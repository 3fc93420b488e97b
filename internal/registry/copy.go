package registry

import (
	"context"
	"fmt"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// CopyModelVersion copies a model version into another registered model as
// a new version, preserving its tags, run reference, and description. The
// destination model is created on first use; a destination that already
// exists is not an error.
func (r *Registry) CopyModelVersion(ctx context.Context, src model.ModelVersion, dstName string) (model.ModelVersion, error) {
	_, err := r.store.CreateRegisteredModel(ctx, dstName, "", nil)
	switch {
	case err == nil:
		r.logger.Info("registered model created for copy", "name", dstName)
	case IsAlreadyExists(err):
		r.logger.Info("registered model already exists, creating a new version", "name", dstName)
	default:
		return model.ModelVersion{}, err
	}

	source := fmt.Sprintf("models:/%s/%d", src.Name, src.Version)
	mv, err := r.store.CreateModelVersion(ctx, dstName, source, src.RunID, src.Description, src.Tags)
	if err != nil {
		return model.ModelVersion{}, Wrap(ErrorCode(err), err,
			"copy version %d of model %q to %q", src.Version, src.Name, dstName)
	}
	r.logger.Info("model version copied",
		"src_name", src.Name, "src_version", src.Version,
		"dst_name", mv.Name, "dst_version", mv.Version,
	)
	return mv, nil
}
