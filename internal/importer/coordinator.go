package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/events"
	"github.com/ETAnderson/productimporter/internal/ingest"
	"github.com/ETAnderson/productimporter/internal/logging"
	"github.com/ETAnderson/productimporter/internal/metrics"
	"github.com/ETAnderson/productimporter/internal/state"
)

const DefaultErrorLogLimit = 1000

var ErrUploadMissing = errors.New("upload for session is missing")

type Records interface {
	ingest.RecordWriter
	Ping(ctx context.Context) error
}

type Emitter interface {
	Emit(ev events.Event)
}

type Submitter interface {
	Submit(sessionID string) error
}

type Options struct {
	Records  Records
	Sessions state.SessionStore
	Events   Emitter // optional
	Metrics  *metrics.Metrics
	Log      *logrus.Entry

	BatchSize     int
	ErrorLogLimit int
}

// Coordinator owns the lifecycle of import sessions. Start registers a
// session and hands it to the pool; Execute drives it to a terminal status.
type Coordinator struct {
	opts Options
	log  *logrus.Entry

	mu      sync.Mutex
	pool    Submitter
	uploads map[string]ingest.Upload
}

func New(opts Options) *Coordinator {
	if opts.ErrorLogLimit <= 0 {
		opts.ErrorLogLimit = DefaultErrorLogLimit
	}
	return &Coordinator{
		opts:    opts,
		log:     logging.OrDiscard(opts.Log).WithField("component", "importer"),
		uploads: make(map[string]ingest.Upload),
	}
}

// UsePool sets where Start submits sessions. The pool is created after the
// coordinator because the coordinator is its executor.
func (c *Coordinator) UsePool(p Submitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = p
}

// Start records a pending session for upload and queues it. It returns as
// soon as the session is stored.
func (c *Coordinator) Start(ctx context.Context, upload ingest.Upload) (domain.ImportSession, error) {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool == nil {
		return domain.ImportSession{}, errors.New("importer has no worker pool")
	}

	sess, err := c.register(ctx, upload)
	if err != nil {
		return domain.ImportSession{}, err
	}

	if err := pool.Submit(sess.ID); err != nil {
		c.takeUpload(sess.ID)
		_ = upload.Remove()

		r := c.newRun(sess)
		r.fail(ctx, fmt.Sprintf("could not schedule import: %v", err))
		return r.sess.Snapshot(), err
	}

	c.opts.Metrics.ImportStarted()
	return sess, nil
}

// Import runs upload to completion on the calling goroutine and returns the
// final session.
func (c *Coordinator) Import(ctx context.Context, upload ingest.Upload) (domain.ImportSession, error) {
	sess, err := c.register(ctx, upload)
	if err != nil {
		return domain.ImportSession{}, err
	}
	c.opts.Metrics.ImportStarted()

	if err := c.Execute(ctx, sess.ID); err != nil {
		return domain.ImportSession{}, err
	}
	return c.Progress(ctx, sess.ID)
}

func (c *Coordinator) register(ctx context.Context, upload ingest.Upload) (domain.ImportSession, error) {
	now := time.Now().UTC()
	sess := domain.ImportSession{
		ID:        uuid.NewString(),
		Filename:  upload.Filename,
		TotalRows: upload.TotalRows,
		Status:    domain.ImportStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.opts.Sessions.SaveSession(ctx, sess); err != nil {
		return domain.ImportSession{}, fmt.Errorf("save session: %w", err)
	}

	c.mu.Lock()
	c.uploads[sess.ID] = upload
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"filename":   sess.Filename,
		"total_rows": sess.TotalRows,
	}).Info("import session created")

	return sess, nil
}

func (c *Coordinator) takeUpload(sessionID string) (ingest.Upload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	up, ok := c.uploads[sessionID]
	delete(c.uploads, sessionID)
	return up, ok
}

// Progress returns a snapshot of the session, or state.ErrNotFound.
func (c *Coordinator) Progress(ctx context.Context, sessionID string) (domain.ImportSession, error) {
	return c.opts.Sessions.GetSession(ctx, sessionID)
}

func (c *Coordinator) Recent(ctx context.Context, limit int) ([]domain.ImportSession, error) {
	return c.opts.Sessions.ListSessions(ctx, limit)
}

// Execute implements worker.Executor.
func (c *Coordinator) Execute(ctx context.Context, sessionID string) error {
	sess, err := c.opts.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess.Status.IsTerminal() {
		return nil
	}

	r := c.newRun(sess)

	upload, ok := c.takeUpload(sessionID)
	if !ok {
		r.fail(ctx, ErrUploadMissing.Error())
		return ErrUploadMissing
	}
	defer func() {
		if err := upload.Remove(); err != nil {
			r.log.WithError(err).Warn("failed to remove spooled upload")
		}
	}()

	r.execute(ctx, upload)
	return nil
}

// Abandon implements worker.Abandoner. A session the pool dropped before it
// started is failed and its spooled upload removed.
func (c *Coordinator) Abandon(ctx context.Context, sessionID string, cause error) {
	log := c.log.WithField("session_id", sessionID)

	if upload, ok := c.takeUpload(sessionID); ok {
		if err := upload.Remove(); err != nil {
			log.WithError(err).Warn("failed to remove spooled upload")
		}
	}

	sess, err := c.opts.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.WithError(err).Error("failed to load abandoned session")
		return
	}
	if sess.Status.IsTerminal() {
		return
	}

	c.newRun(sess).fail(ctx, fmt.Sprintf("import cancelled before start: %v", cause))
}
