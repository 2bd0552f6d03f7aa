// Package media prepares the inputs of a render job: the actor video and a
// spoken greeting synthesized for the requester and uploaded to storage.
package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/tbourn/go-video-backend/internal/domain"
)

// Inputs are the public media URLs handed to the render engine.
type Inputs struct {
	VideoURL string
	AudioURL string
}

// Preparer builds render inputs for a request.
type Preparer interface {
	Prepare(ctx context.Context, req *domain.VideoRequest) (Inputs, error)
}

// PreparationError names the step that failed.
type PreparationError struct {
	Stage string // actor|tts|upload|config
	Err   error
}

func (e *PreparationError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Stage, e.Err)
}

func (e *PreparationError) Unwrap() error { return e.Err }

// Config wires the preparation steps.
type Config struct {
	TTS          Synthesizer
	Uploader     Uploader
	StaticAudio  string
	ActorVideos  map[string]string
	DefaultVideo string
}

// Service is the default Preparer.
type Service struct {
	tts          Synthesizer
	uploader     Uploader
	staticAudio  string
	actors       map[string]string
	defaultVideo string
	newKey       func(id uint64) string
}

// NewService builds a Service.
func NewService(cfg Config) *Service {
	return &Service{
		tts:          cfg.TTS,
		uploader:     cfg.Uploader,
		staticAudio:  strings.TrimSpace(cfg.StaticAudio),
		actors:       cfg.ActorVideos,
		defaultVideo: strings.TrimSpace(cfg.DefaultVideo),
		newKey: func(id uint64) string {
			return fmt.Sprintf("audio/%d-%s.mp3", id, uuid.NewString())
		},
	}
}

// Prepare resolves the actor video and produces the greeting audio. When
// no TTS pipeline is configured the static audio URL is used.
func (s *Service) Prepare(ctx context.Context, req *domain.VideoRequest) (Inputs, error) {
	video := s.actors[req.ActorID]
	if video == "" {
		video = s.defaultVideo
	}
	if video == "" {
		return Inputs{}, &PreparationError{Stage: "actor", Err: errors.Newf("no video for actor %q", req.ActorID)}
	}

	if s.tts == nil || s.uploader == nil {
		if s.staticAudio == "" {
			return Inputs{}, &PreparationError{Stage: "config", Err: errors.New("no speech synthesis or static audio configured")}
		}
		return Inputs{VideoURL: video, AudioURL: s.staticAudio}, nil
	}

	audio, contentType, err := s.tts.Synthesize(ctx, Script(req.Name, req.City))
	if err != nil {
		return Inputs{}, &PreparationError{Stage: "tts", Err: err}
	}
	audioURL, err := s.uploader.Upload(ctx, s.newKey(req.ID), contentType, audio)
	if err != nil {
		return Inputs{}, &PreparationError{Stage: "upload", Err: err}
	}
	return Inputs{VideoURL: video, AudioURL: audioURL}, nil
}
