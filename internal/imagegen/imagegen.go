// Package imagegen generates plate images through an external image model.
package imagegen

import (
	"context"
	"errors"
)

const DefaultMIMEType = "image/png"

var (
	// ErrProviderNotConfigured is returned when the provider has no credential.
	ErrProviderNotConfigured = errors.New("image provider not configured")
	// ErrNoImages is returned when the provider answers without any image.
	ErrNoImages = errors.New("image provider returned no images")
	// ErrImageFiltered is returned when the provider withheld the image.
	ErrImageFiltered = errors.New("image filtered by provider")
)

// Image is one generated picture. Placeholder marks the stand-in used for a
// failed batch item.
type Image struct {
	Data        []byte
	MIMEType    string
	Placeholder bool
}

// ProgressFunc receives provider progress in percent, 0..100.
type ProgressFunc func(percent int)

// Generator is the image provider contract. Generate may report progress any
// number of times before returning exactly one image or error.
type Generator interface {
	Generate(ctx context.Context, prompt, aspectRatio string, count int, onProgress ProgressFunc) (Image, error)
	Configured() bool
	Name() string
}

func report(onProgress ProgressFunc, percent int) {
	if onProgress != nil {
		onProgress(percent)
	}
}

func normalizedCount(count int) int {
	if count < 1 {
		return 1
	}

	return count
}
