package validator

import (
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "rag-ingest/pkg/errors"
)

// Validator wraps go-playground/validator with custom validation rules
type Validator struct {
	validate *validator.Validate
	config   *Config
}

// Config holds validation configuration
type Config struct {
	MaxFileSize        int64    `json:"max_file_size"`        // Maximum file size in bytes
	MinFileSize        int64    `json:"min_file_size"`        // Minimum file size in bytes
	AllowedMimeTypes   []string `json:"allowed_mime_types"`   // Allowed Content-Type headers
	AllowedExtensions  []string `json:"allowed_extensions"`   // Allowed file extensions
	RequireContentType bool     `json:"require_content_type"` // Reject parts without Content-Type
	MaxChunkSize       int      `json:"max_chunk_size"`
	MinChunkSize       int      `json:"min_chunk_size"`
	MaxChunkOverlap    int      `json:"max_chunk_overlap"`
}

// DefaultConfig returns default validation configuration
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize:     10 * 1024 * 1024, // 10MB
		MinFileSize:     1,
		MaxChunkSize:    8000,
		MinChunkSize:    100,
		MaxChunkOverlap: 1000,
		AllowedMimeTypes: []string{
			"application/pdf",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/octet-stream",
			"text/plain",
			"text/markdown",
			"text/html",
		},
		AllowedExtensions: []string{".pdf", ".docx", ".txt", ".md", ".html", ".htm"},
	}
}

// New creates a new validator instance
func New(config *Config) *Validator {
	if config == nil {
		config = DefaultConfig()
	}

	validate := validator.New()

	validate.RegisterValidation("file_size", validateFileSize(config.MinFileSize, config.MaxFileSize))
	validate.RegisterValidation("mime_type", validateMimeType(config.AllowedMimeTypes))
	validate.RegisterValidation("file_extension", validateFileExtension(config.AllowedExtensions))
	validate.RegisterValidation("chunk_size", validateChunkSize(config.MinChunkSize, config.MaxChunkSize))
	validate.RegisterValidation("chunk_overlap", validateChunkOverlap(config.MaxChunkOverlap))
	validate.RegisterValidation("uuid_str", validateUUIDString)
	validate.RegisterValidation("strategy", validateStrategy)

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	return &Validator{
		validate: validate,
		config:   config,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct validates a struct
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	var validationErrors ValidationErrors
	for _, fe := range fieldErrors {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: getErrorMessage(fe),
		})
	}
	return validationErrors
}

// ValidateFile validates an uploaded file header. A nil config uses the
// validator's own configuration.
func (v *Validator) ValidateFile(file *multipart.FileHeader, config *Config) error {
	if config == nil {
		config = v.config
	}

	var errs ValidationErrors

	if file.Size > config.MaxFileSize {
		errs = append(errs, ValidationError{
			Field:   "file_size",
			Tag:     "max_size",
			Value:   fmt.Sprintf("%d", file.Size),
			Message: fmt.Sprintf("File size %d bytes exceeds maximum allowed size of %d bytes", file.Size, config.MaxFileSize),
		})
	}

	if file.Size < config.MinFileSize {
		errs = append(errs, ValidationError{
			Field:   "file_size",
			Tag:     "min_size",
			Value:   fmt.Sprintf("%d", file.Size),
			Message: fmt.Sprintf("File size %d bytes is below minimum required size of %d bytes", file.Size, config.MinFileSize),
		})
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !contains(config.AllowedExtensions, ext) {
		errs = append(errs, ValidationError{
			Field:   "file_extension",
			Tag:     "allowed_extension",
			Value:   ext,
			Message: fmt.Sprintf("File extension '%s' is not allowed. Allowed extensions: %v", ext, config.AllowedExtensions),
		})
	}

	if config.RequireContentType && file.Header != nil {
		contentType := strings.TrimSpace(strings.SplitN(file.Header.Get("Content-Type"), ";", 2)[0])
		if contentType == "" {
			errs = append(errs, ValidationError{
				Field:   "content_type",
				Tag:     "required",
				Message: "Content-Type header is required",
			})
		} else if !contains(config.AllowedMimeTypes, contentType) {
			errs = append(errs, ValidationError{
				Field:   "content_type",
				Tag:     "allowed_mime_type",
				Value:   contentType,
				Message: fmt.Sprintf("MIME type '%s' is not allowed. Allowed types: %v", contentType, config.AllowedMimeTypes),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateChunkingRequest validates chunk size and overlap supplied by a caller
func (v *Validator) ValidateChunkingRequest(chunkSize, overlap int) error {
	config := v.config
	var errs ValidationErrors

	if chunkSize < config.MinChunkSize {
		errs = append(errs, ValidationError{
			Field:   "chunk_size",
			Tag:     "min_chunk_size",
			Value:   fmt.Sprintf("%d", chunkSize),
			Message: fmt.Sprintf("Chunk size %d is below minimum of %d", chunkSize, config.MinChunkSize),
		})
	}

	if chunkSize > config.MaxChunkSize {
		errs = append(errs, ValidationError{
			Field:   "chunk_size",
			Tag:     "max_chunk_size",
			Value:   fmt.Sprintf("%d", chunkSize),
			Message: fmt.Sprintf("Chunk size %d exceeds maximum of %d", chunkSize, config.MaxChunkSize),
		})
	}

	if overlap > config.MaxChunkOverlap {
		errs = append(errs, ValidationError{
			Field:   "chunk_overlap",
			Tag:     "max_chunk_overlap",
			Value:   fmt.Sprintf("%d", overlap),
			Message: fmt.Sprintf("Chunk overlap %d exceeds maximum of %d", overlap, config.MaxChunkOverlap),
		})
	}

	if overlap >= chunkSize {
		errs = append(errs, ValidationError{
			Field:   "chunk_overlap",
			Tag:     "overlap_less_than_size",
			Value:   fmt.Sprintf("%d", overlap),
			Message: fmt.Sprintf("Chunk overlap %d must be less than chunk size %d", overlap, chunkSize),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsSuspiciousFilename reports path traversal and script-like patterns in
// an uploaded file name.
func (v *Validator) IsSuspiciousFilename(filename string) (bool, string) {
	suspiciousPatterns := []string{
		"../", "..\\",
		"<script", "javascript:",
		"<?php", "<%",
		"\x00",
	}

	filename = strings.ToLower(filename)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(filename, pattern) {
			return true, fmt.Sprintf("Suspicious filename pattern detected: %q", pattern)
		}
	}
	return false, ""
}

// ToAppError converts validation failures into a VALIDATION_FAILED AppError
// carrying one detail entry per failing field.
func ToAppError(err error) *apperrors.AppError {
	appErr := apperrors.NewValidationError(err.Error())

	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			appErr.WithContext(e.Field, e.Message)
		}
	}
	return appErr
}

func validateFileSize(minSize, maxSize int64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		size := fl.Field().Int()
		return size >= minSize && size <= maxSize
	}
}

func validateMimeType(allowedTypes []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return contains(allowedTypes, fl.Field().String())
	}
}

func validateFileExtension(allowedExtensions []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return contains(allowedExtensions, strings.ToLower(fl.Field().String()))
	}
}

func validateChunkSize(minSize, maxSize int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		size := int(fl.Field().Int())
		return size == 0 || (size >= minSize && size <= maxSize)
	}
}

func validateChunkOverlap(maxOverlap int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		overlap := int(fl.Field().Int())
		return overlap >= 0 && overlap <= maxOverlap
	}
}

// validateUUIDString accepts any textual form uuid.Parse accepts
func validateUUIDString(fl validator.FieldLevel) bool {
	_, err := uuid.Parse(strings.TrimSpace(fl.Field().String()))
	return err == nil
}

func validateStrategy(fl validator.FieldLevel) bool {
	switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
	case "", "recursive", "semantic":
		return true
	}
	return false
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s", err.Field(), err.Param())
	case "file_size":
		return fmt.Sprintf("%s has invalid file size", err.Field())
	case "mime_type":
		return fmt.Sprintf("%s has unsupported MIME type", err.Field())
	case "file_extension":
		return fmt.Sprintf("%s has unsupported file extension", err.Field())
	case "chunk_size":
		return fmt.Sprintf("%s has invalid chunk size", err.Field())
	case "chunk_overlap":
		return fmt.Sprintf("%s has invalid chunk overlap", err.Field())
	case "uuid_str":
		return fmt.Sprintf("%s must be a valid UUID", err.Field())
	case "strategy":
		return fmt.Sprintf("%s must be 'recursive' or 'semantic'", err.Field())
	default:
		return fmt.Sprintf("%s is invalid", err.Field())
	}
}

// Global validator instance
var globalValidator *Validator

// Init initializes the global validator
func Init(config *Config) {
	globalValidator = New(config)
}

// Get returns the global validator
func Get() *Validator {
	if globalValidator == nil {
		globalValidator = New(DefaultConfig())
	}
	return globalValidator
}
