package chunking

import (
	apperrors "rag-ingest/pkg/errors"
)

func invalidConfiguration(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ValidationError, apperrors.CodeInvalidConfiguration, format, args...)
}

func embeddingUnavailable(err error, format string, args ...interface{}) error {
	return apperrors.Wrapf(err, apperrors.UnavailableError, apperrors.CodeEmbeddingUnavailable, format, args...)
}

// IsInvalidConfiguration reports whether err was caused by rejected chunking options.
func IsInvalidConfiguration(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeInvalidConfiguration)
}

// IsEmbeddingUnavailable reports whether err was caused by the embedding backend.
func IsEmbeddingUnavailable(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeEmbeddingUnavailable)
}
