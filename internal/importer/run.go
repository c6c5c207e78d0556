package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/events"
	"github.com/ETAnderson/productimporter/internal/ingest"
)

const terminalSaveRetryDelay = 100 * time.Millisecond

// run is the single writer of one session. Every change goes through save so
// readers only ever see stored snapshots.
type run struct {
	c    *Coordinator
	sess domain.ImportSession
	log  *logrus.Entry

	batchStart time.Time
	finished   bool
}

func (c *Coordinator) newRun(sess domain.ImportSession) *run {
	return &run{
		c:    c,
		sess: sess,
		log:  c.log.WithField("session_id", sess.ID),
	}
}

func (r *run) execute(ctx context.Context, upload ingest.Upload) {
	started := time.Now().UTC()
	r.sess.StartedAt = &started
	if err := r.transition(ctx, domain.ImportStatusParsing); err != nil {
		r.fail(ctx, err.Error())
		return
	}

	if err := r.c.opts.Records.Ping(ctx); err != nil {
		r.fail(ctx, fmt.Sprintf("storage unavailable: %v", err))
		return
	}

	f, err := upload.Open()
	if err != nil {
		r.fail(ctx, fmt.Sprintf("unreadable file: %v", err))
		return
	}
	defer f.Close()

	parser, err := ingest.NewParser(f)
	if err != nil {
		r.fail(ctx, err.Error())
		return
	}

	if err := r.transition(ctx, domain.ImportStatusValidating); err != nil {
		r.fail(ctx, err.Error())
		return
	}
	r.batchStart = time.Now()

	u := ingest.BatchUpserter{
		Store: r.c.opts.Records,
		Size:  r.c.opts.BatchSize,
		BeforeWrite: func(ctx context.Context, batch int) error {
			r.log.WithField("batch", batch).Debug("writing batch")
			return r.transition(ctx, domain.ImportStatusUpserting)
		},
	}

	if err := u.Run(ctx, parser, func(rep ingest.BatchReport) error { return r.apply(ctx, rep) }); err != nil {
		var fe *ingest.FatalError
		switch {
		case errors.As(err, &fe):
			r.fail(ctx, fe.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			r.fail(context.WithoutCancel(ctx), fmt.Sprintf("import interrupted: %v", err))
		default:
			r.fail(ctx, err.Error())
		}
		return
	}

	r.complete(ctx)
}

// apply folds one batch report into the session and stores the snapshot.
func (r *run) apply(ctx context.Context, rep ingest.BatchReport) error {
	s := &r.sess
	s.ProcessedRows += rep.Consumed
	s.SuccessCount += rep.Committed
	s.ErrorCount += rep.ErrorCount()
	if s.ProcessedRows > s.TotalRows {
		s.TotalRows = s.ProcessedRows
	}

	limit := r.c.opts.ErrorLogLimit
	for _, e := range rep.Errors {
		if len(s.Errors) >= limit {
			s.ErrorsDropped++
			continue
		}
		s.Errors = append(s.Errors, e.Log())
	}

	r.c.opts.Metrics.ImportBatch(rep.Committed, rep.ErrorCount(), time.Since(r.batchStart))
	r.batchStart = time.Now()

	r.log.WithFields(logrus.Fields{
		"batch":      rep.Batch,
		"processed":  s.ProcessedRows,
		"successes":  s.SuccessCount,
		"errors":     s.ErrorCount,
		"duplicates": rep.Duplicates,
	}).Debug("batch applied")

	if s.Status == domain.ImportStatusUpserting {
		return r.transition(ctx, domain.ImportStatusValidating)
	}
	return r.save(ctx)
}

func (r *run) transition(ctx context.Context, next domain.ImportStatus) error {
	if r.sess.Status == next {
		return r.save(ctx)
	}
	if !r.sess.Status.CanTransition(next) {
		return fmt.Errorf("invalid status transition %s -> %s", r.sess.Status, next)
	}
	r.sess.Status = next
	return r.save(ctx)
}

func (r *run) save(ctx context.Context) error {
	r.sess.UpdatedAt = time.Now().UTC()
	if err := r.c.opts.Sessions.SaveSession(ctx, r.sess.Snapshot()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// saveTerminal retries once before the completion event goes out.
func (r *run) saveTerminal(ctx context.Context) error {
	err := r.save(ctx)
	if err == nil {
		return nil
	}
	r.log.WithError(err).Warn("retrying terminal session save")

	select {
	case <-time.After(terminalSaveRetryDelay):
	case <-ctx.Done():
		return err
	}
	return r.save(ctx)
}

func (r *run) complete(ctx context.Context) {
	// The line count taken at upload is an estimate; the parser's count is exact.
	r.sess.TotalRows = r.sess.ProcessedRows
	r.finish(ctx, domain.ImportStatusCompleted, "")
}

func (r *run) fail(ctx context.Context, reason string) {
	r.finish(ctx, domain.ImportStatusFailed, reason)
}

// finish stores the terminal status and then emits the completion event.
// It runs at most once per session.
func (r *run) finish(ctx context.Context, status domain.ImportStatus, reason string) {
	if r.finished {
		return
	}
	r.finished = true

	if !r.sess.Status.CanTransition(status) {
		status = domain.ImportStatusFailed
	}
	finished := time.Now().UTC()
	r.sess.Status = status
	r.sess.FailureReason = reason
	r.sess.FinishedAt = &finished

	log := r.log.WithFields(logrus.Fields{
		"status":        status,
		"processed":     r.sess.ProcessedRows,
		"success_count": r.sess.SuccessCount,
		"error_count":   r.sess.ErrorCount,
	})

	if err := r.saveTerminal(context.WithoutCancel(ctx)); err != nil {
		// Readers may still see the last progress snapshot; the event
		// carries the terminal state regardless.
		log.WithError(err).Error("failed to store terminal session status")
	}

	if status == domain.ImportStatusFailed {
		log.WithField("reason", reason).Warn("import failed")
	} else {
		log.Info("import completed")
	}

	r.c.opts.Metrics.ImportFinished(string(status))
	if r.c.opts.Events != nil {
		r.c.opts.Events.Emit(events.ImportCompleted(r.sess.Snapshot()))
	}
}
