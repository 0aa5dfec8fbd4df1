package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/letsencrypt/challtestsrv"
	"github.com/sirupsen/logrus"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/model"
	acmenet "github.com/cpu/acmerenew/net"
	"github.com/cpu/acmerenew/provider"
)

// ChallTestSrvType serves challenges from a challenge test server, either
// the one embedded in the process or a remote pebble-challtestsrv.
const ChallTestSrvType = "challtestsrv"

// ChallengeServer is the part of a challenge test server the responder uses.
type ChallengeServer interface {
	AddHTTPOneChallenge(ctx context.Context, token, keyAuth string) error
	DeleteHTTPOneChallenge(ctx context.Context, token string) error
}

// NewEmbeddedChallengeServer creates a challenge test server answering
// HTTP-01 requests on addrs. It must be started with Run.
func NewEmbeddedChallengeServer(addrs []string, logger *logrus.Entry) (*challtestsrv.ChallSrv, error) {
	return challtestsrv.New(challtestsrv.Config{
		HTTPOneAddrs: addrs,
		Log:          log.New(logger.WriterLevel(logrus.DebugLevel), "", 0),
	})
}

type embeddedChallengeServer struct {
	srv provider.HTTPOneServer
}

func (e embeddedChallengeServer) AddHTTPOneChallenge(_ context.Context, token, keyAuth string) error {
	e.srv.AddHTTPOneChallenge(token, keyAuth)
	return nil
}

func (e embeddedChallengeServer) DeleteHTTPOneChallenge(_ context.Context, token string) error {
	e.srv.DeleteHTTPOneChallenge(token)
	return nil
}

// RemoteChallengeServer drives the management API of a pebble-challtestsrv.
type RemoteChallengeServer struct {
	address string
	net     *acmenet.ACMENet
}

// NewRemoteChallengeServer returns a client of the management API at addr.
func NewRemoteChallengeServer(addr string, net *acmenet.ACMENet) *RemoteChallengeServer {
	return &RemoteChallengeServer{
		address: strings.TrimSuffix(addr, "/"),
		net:     net,
	}
}

func (srv *RemoteChallengeServer) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := srv.net.PostJSON(ctx, fmt.Sprintf("%s/%s", srv.address, path), data)
	if err != nil {
		return fmt.Errorf("challenge server %s: %w", path, err)
	}
	if resp.Response.StatusCode != http.StatusOK {
		return fmt.Errorf("challenge server %s: unexpected status %s", path, resp.Response.Status)
	}
	return nil
}

func (srv *RemoteChallengeServer) AddHTTPOneChallenge(ctx context.Context, token, keyAuth string) error {
	return srv.post(ctx, "add-http01", struct {
		Token   string `json:"token"`
		Content string `json:"content"`
	}{Token: token, Content: keyAuth})
}

func (srv *RemoteChallengeServer) DeleteHTTPOneChallenge(ctx context.Context, token string) error {
	return srv.post(ctx, "del-http01", struct {
		Token string `json:"token"`
	}{Token: token})
}

// ServerResponder stages challenges on a ChallengeServer.
type ServerResponder struct {
	srv ChallengeServer
	log *logrus.Entry
}

// NewServerResponder returns a responder staging challenges on srv.
func NewServerResponder(srv ChallengeServer, log *logrus.Entry) *ServerResponder {
	return &ServerResponder{srv: srv, log: log}
}

func (r *ServerResponder) InitiateChallenges(ctx context.Context, order acme.Order) ([]*provider.ChallengeContext, error) {
	contexts, err := provider.NewChallengeContexts(ctx, order)
	if err != nil {
		return nil, err
	}
	for _, c := range contexts {
		r.log.Debugf("Adding HTTP-01 challenge %q for %q", c.Token, c.HostName)
		if err := r.srv.AddHTTPOneChallenge(ctx, c.Token, c.KeyAuthorization); err != nil {
			return contexts, err
		}
	}
	return contexts, nil
}

func (r *ServerResponder) Cleanup(ctx context.Context, contexts []*provider.ChallengeContext) error {
	var firstErr error
	for _, c := range contexts {
		if err := r.srv.DeleteHTTPOneChallenge(ctx, c.Token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChallTestSrvOptions configure the challtestsrv responder. Without a
// management URL the embedded server is used.
type ChallTestSrvOptions struct {
	ManagementURL string `json:"managementUrl"`
	CABundle      string `json:"caBundle"`
}

func newChallTestSrv(_ context.Context, env *provider.Env, sel *config.Selector, _ *config.RenewalOptions) (provider.ChallengeResponder, error) {
	var o ChallTestSrvOptions
	if err := sel.DecodeProperties(&o); err != nil {
		return nil, err
	}
	log := env.Logger(ChallTestSrvType)

	if o.ManagementURL != "" {
		net, err := acmenet.New(o.CABundle, log)
		if err != nil {
			return nil, err
		}
		return NewServerResponder(NewRemoteChallengeServer(o.ManagementURL, net), log), nil
	}
	if env.HTTPOne == nil {
		return nil, model.NewConfigurationError("challtestsrv responder needs a managementUrl or an embedded challenge server")
	}
	return NewServerResponder(embeddedChallengeServer{srv: env.HTTPOne}, log), nil
}
