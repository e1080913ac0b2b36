package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"github.com/samirrijal/groundsync/internal/pkg/metrics"
)

// StreamStatus describes one survey's remote subscription.
type StreamStatus struct {
	SurveyID    string     `json:"survey_id"`
	Running     bool       `json:"running"`
	Since       *time.Time `json:"since,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

type streamHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	status StreamStatus
}

// SyncSupervisor runs one change stream per active survey.
type SyncSupervisor struct {
	base   context.Context
	stream *ChangeStream

	mu      sync.Mutex
	running map[string]*streamHandle
	log     *slog.Logger
}

// NewSyncSupervisor creates a supervisor whose streams live until base is
// cancelled or they are stopped.
func NewSyncSupervisor(base context.Context, stream *ChangeStream) *SyncSupervisor {
	s := &SyncSupervisor{
		base:    base,
		stream:  stream,
		running: make(map[string]*streamHandle),
		log:     logging.Component("supervisor"),
	}
	prev := stream.OnRemoteError
	stream.OnRemoteError = func(surveyID string, err error) {
		s.recordError(surveyID, err)
		if prev != nil {
			prev(surveyID, err)
		}
	}
	return s
}

// Start launches the survey's stream unless it is already running.
func (s *SyncSupervisor) Start(surveyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[surveyID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	now := time.Now().UTC()
	h := &streamHandle{
		cancel: cancel,
		done:   make(chan struct{}),
		status: StreamStatus{SurveyID: surveyID, Running: true, Since: &now},
	}
	s.running[surveyID] = h
	metrics.ActiveStreams.Inc()

	go func() {
		defer close(h.done)
		defer metrics.ActiveStreams.Dec()
		if err := s.stream.Run(ctx, surveyID); err != nil {
			s.log.Error("change stream stopped", "survey", surveyID, "error", err)
		}
	}()
	s.log.Info("change stream started", "survey", surveyID)
}

// StartAll starts streams for every given survey.
func (s *SyncSupervisor) StartAll(surveys []domain.Survey) {
	for _, sv := range surveys {
		s.Start(sv.ID)
	}
}

// Stop cancels the survey's stream and waits for it to exit.
func (s *SyncSupervisor) Stop(surveyID string) {
	s.mu.Lock()
	h, ok := s.running[surveyID]
	delete(s.running, surveyID)
	s.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	<-h.done
	s.log.Info("change stream stopped", "survey", surveyID)
}

// StopAll stops every stream.
func (s *SyncSupervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}

// Status reports the state of the survey's stream.
func (s *SyncSupervisor) Status(surveyID string) StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.running[surveyID]
	if !ok {
		return StreamStatus{SurveyID: surveyID}
	}
	return h.status
}

func (s *SyncSupervisor) recordError(surveyID string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.running[surveyID]; ok {
		now := time.Now().UTC()
		h.status.LastError = err.Error()
		h.status.LastErrorAt = &now
	}
}
