// Package router serves note processing over NATS request/reply.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/notes"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

const queueGroup = "scribe"

type NoteProcessor interface {
	ProcessNote(ctx context.Context, req notes.Request) (*notes.Note, error)
}

type Service struct {
	bus     *bus.Client
	notes   NoteProcessor
	timeout time.Duration
	logger  *slog.Logger
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(parent context.Context, busClient *bus.Client, processor NoteProcessor, timeout time.Duration, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:     busClient,
		notes:   processor,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "router")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectNoteProcess, queueGroup, s.handleNote)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("router subscribed", slog.String("subject", protocol.SubjectNoteProcess))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleNote(msg *nats.Msg) {
	var req protocol.NoteRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("router failed to decode note request", slogError(err))
		s.respond(msg, apperr.InvalidRequest("invalid JSON body"))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		note, err := s.notes.ProcessNote(ctx, notes.Request{
			Text:           req.Text,
			TemplateKey:    req.Key(),
			CustomTemplate: req.CustomTemplate,
		})
		if err != nil {
			s.logger.Warn("note request failed",
				slog.String("trace_id", req.TraceID),
				slogError(err))
			s.respond(msg, err)
			return
		}
		s.respond(msg, note)
	}()
}

// respond replies with v, or with a Failure when v is an error.
func (s *Service) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	if err, ok := v.(error); ok {
		v = protocol.Failure{Kind: string(apperr.KindOf(err)), Error: apperr.Message(err)}
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("router failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("router failed to reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
