package dispatcher

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/publish-scheduler/internal/catalog"
	"github.com/d60-Lab/publish-scheduler/internal/events"
	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/publisher"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
	"github.com/d60-Lab/publish-scheduler/pkg/logger"
	"github.com/d60-Lab/publish-scheduler/pkg/sentryx"
)

var (
	errNotDue    = errors.New("dispatcher: schedule no longer due")
	errClaimLost = errors.New("dispatcher: schedule left processing before outcome was recorded")
)

func (d *Dispatcher) dispatchOne(ctx context.Context, id string, scanAt time.Time, c *counters) {
	claimed, err := d.claim(ctx, id, scanAt)
	switch {
	case errors.Is(err, repository.ErrLocked), errors.Is(err, repository.ErrNotFound), errors.Is(err, errNotDue):
		c.skipped.Add(1)
		return
	case err != nil:
		logger.Warn("claim schedule failed", zap.String("schedule_id", id), zap.Error(err))
		c.errors.Add(1)
		return
	}
	c.claimed.Add(1)

	ctx, span := d.tracer.Start(ctx, "schedule.dispatch", trace.WithAttributes(
		attribute.String("schedule.id", claimed.ID),
		attribute.Int("schedule.attempt", claimed.AttemptCount),
		attribute.String("schedule.post_variant_id", claimed.PostVariantID),
	))
	defer span.End()

	res, perr := d.publish(ctx, span, claimed)
	if perr != nil {
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	// 停机时也要把结果落库
	status, err := d.record(context.WithoutCancel(ctx), claimed, res, perr)
	if err != nil {
		logger.Error("record dispatch outcome failed",
			zap.String("schedule_id", claimed.ID), zap.Int("attempt", claimed.AttemptCount), zap.Error(err))
		c.errors.Add(1)
		return
	}

	switch status {
	case model.ScheduleStatusSuccess:
		c.published.Add(1)
		if err := d.catalog.MarkPublished(context.WithoutCancel(ctx), claimed.PostVariantID); err != nil {
			logger.Warn("mark variant published failed", zap.String("post_variant_id", claimed.PostVariantID), zap.Error(err))
		}
	case model.ScheduleStatusPending:
		c.retrying.Add(1)
	case model.ScheduleStatusFailed:
		c.failed.Add(1)
		sentryx.CaptureError(perr, map[string]string{"schedule_id": claimed.ID})
	}
}

// claim 加行锁复核状态后切换为 processing 并累加 attempt，先提交再发起外部调用
func (d *Dispatcher) claim(ctx context.Context, id string, scanAt time.Time) (*model.Schedule, error) {
	var claimed *model.Schedule
	err := d.store.Transaction(ctx, func(tx *repository.Store) error {
		s, err := tx.Schedules.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !s.IsDue(scanAt) {
			return errNotDue
		}
		ok, err := tx.Schedules.ClaimDue(ctx, id, scanAt)
		if err != nil {
			return err
		}
		if !ok {
			return errNotDue
		}
		claimed, err = tx.Schedules.IncrementAttempt(ctx, id, d.now())
		return err
	})
	return claimed, err
}

// publish 在行锁之外读取内容与凭据并调用发布器
func (d *Dispatcher) publish(ctx context.Context, span trace.Span, s *model.Schedule) (*publisher.Result, error) {
	content, err := d.catalog.GetContent(ctx, s.PostVariantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, publisher.Permanent(publisher.CodeVariantNotFound, "post variant no longer exists", err)
		}
		return nil, publisher.Retryable(publisher.CodeUnknown, "failed to load variant content", err)
	}
	conn, err := d.catalog.GetConnection(ctx, s.ChannelConnectionID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, publisher.Permanent(publisher.CodeConnectionNotFound, "channel connection no longer exists", err)
		case errors.Is(err, catalog.ErrDecrypt):
			return nil, publisher.Permanent(publisher.CodeTokenInvalid, "channel credentials cannot be decrypted", err)
		}
		return nil, publisher.Retryable(publisher.CodeUnknown, "failed to load channel connection", err)
	}
	span.SetAttributes(attribute.String("schedule.platform", conn.Platform))

	return d.publisher.Publish(ctx, *conn, *content)
}

// record 同一事务内写 PublishEvent 并更新调度状态，返回新状态
func (d *Dispatcher) record(ctx context.Context, s *model.Schedule, res *publisher.Result, perr error) (model.ScheduleStatus, error) {
	finishedAt := d.now().UTC()
	ev := &model.PublishEvent{
		ScheduleID:   s.ID,
		AttemptIndex: s.AttemptCount,
		Timestamp:    finishedAt,
	}
	fields := map[string]any{"updated_at": finishedAt}
	var next model.ScheduleStatus
	eventName := ""

	if perr == nil {
		next = model.ScheduleStatusSuccess
		ev.Status = model.PublishEventSuccess
		if res != nil {
			ev.ExternalPostID = res.ExternalPostID
			ev.ExternalURL = res.ExternalURL
		}
		fields["error_code"] = ""
		fields["error_message"] = ""
		eventName = events.SchedulePublished
	} else {
		ce := publisher.Classify(perr)
		ev.Status = model.PublishEventFailed
		ev.ErrorCode = ce.Code
		ev.ErrorMessage = ce.Error()
		ev.RawResponse = ce.RawResponse
		fields["error_code"] = ce.Code
		fields["error_message"] = ce.Error()
		if d.cfg.Retry.ShouldRetry(s, ce) {
			next = model.ScheduleStatusPending
			fields["run_at"] = d.cfg.Retry.NextRunAt(finishedAt, s.AttemptCount, ce)
		} else {
			next = model.ScheduleStatusFailed
			eventName = events.ScheduleFailed
		}
	}
	fields["status"] = next

	err := d.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Events.Create(ctx, ev); err != nil {
			return err
		}
		ok, err := tx.Schedules.FinishAttempt(ctx, s.ID, fields)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		if eventName == "" {
			return nil
		}
		return events.NewOutboxSink(tx.Outbox).RecordEvent(ctx, events.Event{
			Type:       events.TypeSystem,
			Name:       eventName,
			EntityType: events.EntitySchedule,
			EntityID:   s.ID,
			Metadata: map[string]any{
				"attempt":          s.AttemptCount,
				"external_post_id": ev.ExternalPostID,
				"external_url":     ev.ExternalURL,
				"error_code":       ev.ErrorCode,
			},
		})
	})
	if err != nil {
		return "", err
	}

	fieldsLog := []zap.Field{
		zap.String("schedule_id", s.ID),
		zap.Int("attempt", s.AttemptCount),
		zap.String("status", string(next)),
	}
	if perr != nil {
		logger.Warn("publish attempt failed", append(fieldsLog, zap.String("error_code", ev.ErrorCode), zap.Error(perr))...)
	} else {
		logger.Info("publish attempt succeeded", append(fieldsLog, zap.String("external_post_id", ev.ExternalPostID))...)
	}
	return next, nil
}
