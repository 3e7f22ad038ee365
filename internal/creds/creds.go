// Package creds provides the one-shot Google credential bootstrap step.
// Grounded on gemini_caption/config.py's _initialize_credentials, redesigned
// per spec.md §9 Design Note "Module-level credential write on import" into
// an explicit initialization step instead of an import-time side effect.
package creds

import (
	"fmt"
	"os"
	"path/filepath"

	apperrors "danbooru-captioner/internal/errors"
)

// Handle is the result of a successful credential bootstrap: the path on
// disk the model client's SDK should read from.
type Handle struct {
	CredentialsPath string
}

// Bootstrap materializes Google application credentials from either inline
// JSON content or a pre-existing file, refusing to proceed when neither is
// present or the file is empty (spec.md §9).
func Bootstrap(path, inlineContent string) (*Handle, error) {
	if inlineContent != "" {
		if path == "" {
			path = filepath.Join(os.TempDir(), "danbooru-captioner-credentials.json")
		}
		if err := os.WriteFile(path, []byte(inlineContent), 0o600); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal.WithMessage("failed to write google credentials file"))
		}
		if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal.WithMessage("failed to set GOOGLE_APPLICATION_CREDENTIALS"))
		}
		return &Handle{CredentialsPath: path}, nil
	}

	if path == "" {
		return nil, apperrors.ErrInvalidRequest.WithMessage(
			"neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_APPLICATION_CREDENTIALS_CONTENT is set")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidRequest.WithMessage(
			fmt.Sprintf("google credentials file %q is missing", path)))
	}
	if info.Size() == 0 {
		return nil, apperrors.ErrInvalidRequest.WithMessage(fmt.Sprintf("google credentials file %q is empty", path))
	}
	return &Handle{CredentialsPath: path}, nil
}
