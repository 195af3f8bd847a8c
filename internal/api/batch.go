package api

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"llm-branch/internal/store"
	"llm-branch/internal/util"
)

const maxWorkers = 12

// decide runs one decision, records it and broadcasts it. Storage failures
// are logged and never change the decision outcome.
func (s *Server) decide(ctx context.Context, req DecideRequest, batchID *uint) DecisionDTO {
	timer := util.StartTimer()
	input := req.toInput(s.defaultModel, s.credential)
	res := s.brancher.Decide(ctx, input)

	dto := DecisionDTO{
		RequestID: uuid.NewString(),
		BatchID:   batchID,
		Condition: input.Condition,
		Choices:   input.Choices,
		Else:      input.Fallback,
		Model:     input.Model,
		Backend:   s.backendName(),
		Response:  res.Succeeded,
		Result:    res.Selected,
		Message:   res.Message,
		LatencyMs: timer.ElapsedMs(),
		CreatedAt: time.Now().UTC(),
	}
	if dto.Choices == nil {
		dto.Choices = []string{}
	}

	if s.db != nil {
		record := dto.ToModel()
		if err := s.db.SaveDecision(&record); err != nil {
			logrus.WithError(err).WithField("request_id", dto.RequestID).Warn("save decision")
		} else {
			dto.ID = record.ID
		}
	}

	logrus.WithFields(logrus.Fields{
		"request_id": dto.RequestID,
		"model":      dto.Model,
		"succeeded":  dto.Response,
		"latency_ms": dto.LatencyMs,
	}).Debug("decision made")

	event := DecisionEvent{Type: "decision", RequestID: dto.RequestID, Decision: &dto}
	if batchID != nil {
		event.BatchID = *batchID
	}
	s.notifier.Broadcast(event)
	return dto
}

// decideBatch fans the items out over a bounded worker pool. Each item is an
// independent decision; results keep the input order.
func (s *Server) decideBatch(ctx context.Context, req BatchDecideRequest) BatchDecideResponse {
	timer := util.StartTimer()
	resp := BatchDecideResponse{
		RequestID: uuid.NewString(),
		Items:     make([]DecisionDTO, len(req.Items)),
	}

	var batchID *uint
	if s.db != nil {
		batch := &store.Batch{RequestID: resp.RequestID, Items: len(req.Items)}
		if err := s.db.CreateBatch(batch); err != nil {
			logrus.WithError(err).WithField("request_id", resp.RequestID).Warn("create batch")
		} else {
			batchID = &batch.ID
			resp.BatchID = batch.ID
		}
	}

	workers := s.workers
	logrus.WithFields(logrus.Fields{
		"request_id": resp.RequestID,
		"items":      len(req.Items),
		"workers":    workers,
	}).Info("batch decision started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range req.Items {
		g.Go(func() error {
			resp.Items[i] = s.decide(gctx, item, batchID)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range resp.Items {
		if item.Response {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	resp.DurationMs = timer.ElapsedMs()

	if batchID != nil {
		if err := s.db.FinishBatch(*batchID, resp.Succeeded, resp.Failed, resp.DurationMs); err != nil {
			logrus.WithError(err).WithField("batch_id", *batchID).Warn("finish batch")
		}
	}

	s.notifier.Broadcast(DecisionEvent{
		Type:      "batch",
		RequestID: resp.RequestID,
		BatchID:   resp.BatchID,
		Processed: len(resp.Items),
		Total:     len(req.Items),
	})
	logrus.WithFields(logrus.Fields{
		"request_id":  resp.RequestID,
		"succeeded":   resp.Succeeded,
		"failed":      resp.Failed,
		"duration_ms": resp.DurationMs,
	}).Info("batch decision completed")
	return resp
}

func determineWorkerCount(configured int) int {
	workers := configured
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		workers = 2
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return workers
}
