package renewal

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/provider"
)

// DefaultPollInterval is the delay between challenge status polls.
const DefaultPollInterval = 500 * time.Millisecond

// ChallengeProtocol authorizes orders with HTTP-01 challenges.
type ChallengeProtocol struct {
	Clock        Clock
	PollInterval time.Duration
	Log          *logrus.Entry
}

// NewChallengeProtocol returns a ChallengeProtocol polling every
// DefaultPollInterval.
func NewChallengeProtocol(clock Clock, log *logrus.Entry) *ChallengeProtocol {
	if clock == nil {
		clock = RealClock
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ChallengeProtocol{
		Clock:        clock,
		PollInterval: DefaultPollInterval,
		Log:          log.WithField("component", "challenge"),
	}
}

// ValidateOrder creates an order for hostNames, has responder stage its
// challenges and waits until the CA decided all of them. Staged challenges
// are cleaned up on every return path, also when staging failed part way.
// There is no limit on the number of polls, ctx bounds the wait.
func (p *ChallengeProtocol) ValidateOrder(
	ctx context.Context,
	acmeCtx acme.Context,
	hostNames []string,
	responder provider.ChallengeResponder,
) (acme.Order, error) {
	order, err := acmeCtx.NewOrder(ctx, hostNames)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	log := p.Log.WithField("order", order.URL())

	contexts, err := responder.InitiateChallenges(ctx, order)
	if contexts != nil {
		defer func() {
			// Cleanup must also run when ctx was cancelled.
			if err := responder.Cleanup(context.WithoutCancel(ctx), contexts); err != nil {
				log.WithError(err).Warn("Failed to clean up challenges")
			}
		}()
	}
	if err != nil {
		return nil, fmt.Errorf("stage challenges: %w", err)
	}
	log.Debugf("Staged %d challenge(s)", len(contexts))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range contexts {
		c := c
		g.Go(func() error {
			if err := c.Challenge.Validate(gctx); err != nil {
				return fmt.Errorf("validate challenge for %q: %w", c.HostName, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := p.poll(ctx, log, contexts); err != nil {
		return nil, err
	}

	var failures []model.ChallengeFailure
	for _, c := range contexts {
		if c.Status == acme.StatusValid {
			continue
		}
		reason := c.Detail
		if reason == "" {
			reason = fmt.Sprintf("challenge status %q", c.Status)
		}
		failures = append(failures, model.ChallengeFailure{HostName: c.HostName, Reason: reason})
	}
	if len(failures) > 0 {
		return nil, &model.ChallengeValidationError{Failures: failures}
	}
	log.Info("All challenges are valid")
	return order, nil
}

// poll refreshes pending contexts until none is pending.
func (p *ChallengeProtocol) poll(ctx context.Context, log *logrus.Entry, contexts []*provider.ChallengeContext) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var pending []*provider.ChallengeContext
		for _, c := range contexts {
			if c.Pending() {
				pending = append(pending, c)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if round > 1 {
			if err := p.Clock.Sleep(ctx, interval); err != nil {
				return err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, c := range pending {
			c := c
			g.Go(func() error { return c.Refresh(gctx) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
		log.Tracef("Poll %d: %d challenge(s) were pending", round, len(pending))
	}
}
