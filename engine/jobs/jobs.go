// Package jobs runs document indexing asynchronously over NATS. Producers
// enqueue an IndexJob naming PDF paths on shared storage; workers in a queue
// group index them and publish a JobResult.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/pagerag/engine/agent"
	"github.com/WessleyAI/pagerag/engine/domain"
	"github.com/WessleyAI/pagerag/pkg/natsutil"
)

const (
	IndexSubject = "pagerag.index"
	DLQSubject   = "pagerag.index.dlq"
	DoneSubject  = "pagerag.index.done"
	QueueGroup   = "pagerag-workers"
	MaxRetries   = 3

	retryHeader = "X-Retry-Count"
)

// IndexJob asks a worker to index the PDFs at Paths.
type IndexJob struct {
	ID    string   `json:"id"`
	Paths []string `json:"paths"`
}

// JobResult is published on DoneSubject after a job finishes.
type JobResult struct {
	ID     string            `json:"id"`
	Result agent.IndexResult `json:"result"`
	Error  string            `json:"error,omitempty"`
}

type dlqMessage struct {
	Job     IndexJob `json:"job"`
	Error   string   `json:"error"`
	Retries int      `json:"retries"`
}

// Indexer is the part of agent.Orchestrator a worker needs.
type Indexer interface {
	IndexPaths(ctx context.Context, paths []string) (agent.IndexResult, error)
}

// Enqueue publishes a new job for paths and returns its id.
func Enqueue(ctx context.Context, p natsutil.Publisher, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("jobs: enqueue: no paths")
	}
	job := IndexJob{ID: uuid.NewString(), Paths: paths}
	if err := natsutil.Publish(ctx, p, IndexSubject, job); err != nil {
		return "", fmt.Errorf("jobs: enqueue %s: %w", job.ID, err)
	}
	return job.ID, nil
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, _ := strconv.Atoi(msg.Header.Get(retryHeader))
	return n
}

// permanent reports whether every cause joined into err is one a retry cannot
// fix: a missing file or a rejected upload.
func permanent(err error) bool {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs := j.Unwrap()
		for _, e := range errs {
			if !permanent(e) {
				return false
			}
		}
		return len(errs) > 0
	}
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, domain.ErrInvalidUpload)
}

// StartConsumer subscribes idx to IndexSubject in QueueGroup. A job that
// indexes nothing and returns an error is retried up to MaxRetries times and
// then sent to DLQSubject; one whose causes are all permanent goes to the DLQ
// at once. Partial failures are reported, not retried.
func StartConsumer(nc *nats.Conn, idx Indexer, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Subscribe(nc, IndexSubject, QueueGroup, log, func(ctx context.Context, msg *nats.Msg, job IndexJob) {
		res, err := idx.IndexPaths(ctx, job.Paths)
		retries := retryCount(msg)

		switch {
		case err != nil && res.PagesIndexed == 0:
			retries++
			perm := permanent(err)
			log.Error("jobs: index failed", "job", job.ID, "error", err, "retry", retries, "permanent", perm)
			if perm || retries >= MaxRetries {
				dlq := dlqMessage{Job: job, Error: err.Error(), Retries: retries}
				if perr := natsutil.Publish(ctx, nc, DLQSubject, dlq); perr != nil {
					log.Error("jobs: DLQ publish failed", "job", job.ID, "error", perr)
				}
				publishDone(ctx, nc, log, JobResult{ID: job.ID, Result: res, Error: err.Error()})
			} else {
				hdr := nats.Header{}
				hdr.Set(retryHeader, strconv.Itoa(retries))
				if perr := natsutil.PublishWithHeader(ctx, nc, IndexSubject, job, hdr); perr != nil {
					log.Error("jobs: retry publish failed", "job", job.ID, "error", perr)
				}
			}
		case err != nil:
			log.Warn("jobs: indexed with errors", "job", job.ID, "pages", res.PagesIndexed, "error", err)
			publishDone(ctx, nc, log, JobResult{ID: job.ID, Result: res, Error: err.Error()})
		default:
			log.Info("jobs: indexed", "job", job.ID, "pages", res.PagesIndexed)
			publishDone(ctx, nc, log, JobResult{ID: job.ID, Result: res})
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}

func publishDone(ctx context.Context, nc *nats.Conn, log *slog.Logger, r JobResult) {
	if err := natsutil.Publish(ctx, nc, DoneSubject, r); err != nil {
		log.Error("jobs: result publish failed", "job", r.ID, "error", err)
	}
}
