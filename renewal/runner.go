package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/metrics"
	"github.com/cpu/acmerenew/model"
)

// Renewer renews a single certificate configuration.
type Renewer interface {
	RenewCertificate(ctx context.Context, acmeOpts config.AcmeOptions, opts *config.RenewalOptions) (model.Result, error)
}

// Job is one certificate configuration with the account it belongs to.
type Job struct {
	Source  string
	Acme    config.AcmeOptions
	Renewal *config.RenewalOptions
	// Err is set, and Renewal is nil, for a document that failed to load.
	// Running the job records the failure.
	Err error
}

// HostNames returns the hostnames of the job, nil for a failed document.
func (j Job) HostNames() []string {
	if j.Renewal == nil {
		return nil
	}
	return j.Renewal.HostNames
}

// Jobs flattens the certificates of docs in document order.
func Jobs(docs []*config.Document) []Job {
	var jobs []Job
	for _, doc := range docs {
		for i := range doc.Certificates {
			jobs = append(jobs, Job{
				Source:  doc.Source,
				Acme:    doc.Acme,
				Renewal: &doc.Certificates[i],
			})
		}
	}
	return jobs
}

// FailedJobs turns the *config.DocumentError values joined in loadErr into
// failed jobs, one per document.
func FailedJobs(loadErr error) []Job {
	var errs []error
	if joined, ok := loadErr.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else if loadErr != nil {
		errs = []error{loadErr}
	}

	var jobs []Job
	for _, err := range errs {
		var docErr *config.DocumentError
		if errors.As(err, &docErr) {
			jobs = append(jobs, Job{Source: docErr.Source, Err: docErr})
		}
	}
	return jobs
}

// Summary counts the results of a run.
type Summary struct {
	RunID    string
	Success  int
	NoChange int
	Failed   int
}

// Total is the number of processed configurations.
func (s Summary) Total() int {
	return s.Success + s.NoChange + s.Failed
}

// Runner processes many configurations. A failing configuration never stops
// the others.
type Runner struct {
	Renewer Renewer
	// Parallelism bounds the configurations processed at once. Values below
	// one process them sequentially.
	Parallelism int
	Metrics     *metrics.Metrics
	Clock       Clock
	Log         *logrus.Entry
}

// Run processes every job and returns the joined errors of the failed ones.
func (r *Runner) Run(ctx context.Context, jobs []Job) (Summary, error) {
	clock := r.Clock
	if clock == nil {
		clock = RealClock
	}
	log := r.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	sum := Summary{RunID: uuid.NewString()}
	log = log.WithField("run_id", sum.RunID)

	r.Metrics.RunStarted()
	start := clock.Now()
	log.Infof("Processing %d certificate configuration(s)", len(jobs))

	var (
		mu   sync.Mutex
		errs []error
	)
	g := &errgroup.Group{}
	limit := r.Parallelism
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			jobLog := log.WithFields(logrus.Fields{
				"hostnames": job.HostNames(),
				"source":    job.Source,
			})
			if job.Err != nil {
				mu.Lock()
				defer mu.Unlock()
				sum.Failed++
				errs = append(errs, job.Err)
				r.Metrics.ObserveRenewal(metrics.ResultError, 0)
				jobLog.WithError(job.Err).Error("Configuration could not be loaded")
				return nil
			}

			began := clock.Now()
			res, err := r.Renewer.RenewCertificate(ctx, job.Acme, job.Renewal)
			elapsed := clock.Now().Sub(began)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sum.Failed++
				errs = append(errs, err)
				r.Metrics.ObserveRenewal(metrics.ResultError, elapsed)
				jobLog.WithError(err).Errorf("Renewal failed after %s", elapsed)
			case res == model.Success:
				sum.Success++
				r.Metrics.ObserveRenewal(metrics.ResultSuccess, elapsed)
				jobLog.Infof("Certificate renewed and deployed in %s", elapsed)
			default:
				sum.NoChange++
				r.Metrics.ObserveRenewal(metrics.ResultNoChange, elapsed)
				jobLog.Infof("Certificate is up to date, checked in %s", elapsed)
			}
			return nil
		})
	}
	_ = g.Wait()

	end := clock.Now()
	r.Metrics.RunFinished(end, sum.Failed > 0)
	log.WithFields(logrus.Fields{
		"success":   sum.Success,
		"no_change": sum.NoChange,
		"failed":    sum.Failed,
	}).Infof("Run finished in %s", end.Sub(start))

	if len(errs) > 0 {
		return sum, fmt.Errorf("%d of %d renewal(s) failed: %w", sum.Failed, sum.Total(), errors.Join(errs...))
	}
	return sum, nil
}
