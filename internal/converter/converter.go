// Package converter computes checksums for mod repository metadata. The
// Generator interface is the seam between the task layer and the actual
// download-and-hash work; Checksummer is the default implementation.
package converter

import (
	"context"
	"encoding/json"
)

// ProgressFunc receives coarse progress: fraction in [0,1] plus a short
// description of the current step.
type ProgressFunc func(fraction float64, text string)

// ChallengeFunc resolves a captcha challenge: it receives the challenge
// image URL and blocks until a human supplies the code.
type ChallengeFunc func(ctx context.Context, imageURL string) (string, error)

// Options tunes one generator run.
type Options struct {
	Progress  ProgressFunc
	Challenge ChallengeFunc

	// MirrorDir, when set, receives a copy of every fetched file;
	// MirrorBaseURL is the public prefix under which those copies are
	// reachable.
	MirrorDir     string
	MirrorBaseURL string
}

// Generator turns raw mod repository metadata into the same metadata
// enriched with checksums, file sizes and mirror links.
type Generator interface {
	GenerateChecksums(ctx context.Context, repo json.RawMessage, opts Options) (json.RawMessage, error)
}
