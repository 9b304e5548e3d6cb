package consul

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/stream"
	sapi "github.com/airenas/vox/internal/pkg/stream/api"
	"github.com/hashicorp/consul/api"
	"go.uber.org/multierr"
)

const (
	streamKey    = "streamURL"
	isHTTPSSLKey = "HTTPSSL"
	priorityKey  = "priority"
)

// Provider keeps stream service openers discovered in consul
type Provider struct {
	consul  *api.Client
	srvName string

	lock    *sync.RWMutex
	openers []*opWrap
}

type opWrap struct {
	real     sapi.Opener
	srv      string
	key      string
	priority float64
}

// NewProvider creates consul service provider
func NewProvider(cfg *api.Config, srvNameInConsul string) (*Provider, error) {
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if srvNameInConsul == "" {
		return nil, fmt.Errorf("no srv name")
	}
	return newProvider(c, srvNameInConsul), nil
}

func newProvider(c *api.Client, srvNameInConsul string) *Provider {
	goapp.Log.Info().Str("service", srvNameInConsul).Msg("cfg: srv name in consul")
	return &Provider{consul: c, srvName: srvNameInConsul, lock: &sync.RWMutex{}, openers: make([]*opWrap, 0)}
}

// Get returns an opener selected randomly by priority
func (c *Provider) Get() (sapi.Opener, string, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if len(c.openers) == 0 {
		return nil, "", fmt.Errorf("no active stream services")
	}
	if len(c.openers) == 1 {
		o := c.openers[0]
		return o.real, o.srv, nil
	}
	i, err := getRandomByPriority(c.openers)
	if err != nil {
		return nil, "", fmt.Errorf("can't select stream service: %v", err)
	}
	if i < len(c.openers) {
		o := c.openers[i]
		return o.real, o.srv, nil
	}
	return nil, "", fmt.Errorf("no active stream services")
}

func getRandomByPriority(wraps []*opWrap) (int, error) {
	prMax := 0.0
	for _, o := range wraps {
		prMax += o.priority
	}
	if prMax < 0.1 {
		return 0, fmt.Errorf("wrong priority sum found %f", prMax)
	}
	rnd := rand.Float64() * prMax
	prMax = 0.0
	for i, o := range wraps {
		prMax += o.priority
		if prMax > rnd {
			return i, nil
		}
	}
	return len(wraps), nil
}

func (c *Provider) StartRegistryLoop(ctx context.Context, checkInterval time.Duration) (<-chan struct{}, error) {
	goapp.Log.Info().Msgf("Starting consul service check every %v", checkInterval)
	res := make(chan struct{}, 2)
	go func() {
		defer close(res)
		c.serviceLoop(ctx, checkInterval)
	}()
	return res, nil
}

func (c *Provider) serviceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	// run on startup
	if err := c.check(ctx); err != nil {
		goapp.Log.Error().Err(err).Send()
	}
	for {
		select {
		case <-ticker.C:
			if err := c.check(ctx); err != nil {
				goapp.Log.Error().Err(err).Send()
			}
		case <-ctx.Done():
			ticker.Stop()
			goapp.Log.Info().Msgf("Stopped consul timer service")
			return
		}
	}
}

func (c *Provider) check(ctx context.Context) error {
	ctxInt, cf := context.WithTimeout(ctx, time.Second*5)
	defer cf()
	srvs, _, err := c.consul.Health().Service(c.srvName, "", true, (&api.QueryOptions{}).WithContext(ctxInt))
	if err != nil {
		return fmt.Errorf("can't invoke consul: %v", err)
	}
	return c.updateSrv(srvs)
}

func (c *Provider) updateSrv(srvs []*api.ServiceEntry) error {
	goapp.Log.Info().Msgf("got %d services from consul", len(srvs))
	c.lock.Lock()
	defer c.lock.Unlock()
	ms := map[string]*api.ServiceEntry{}
	for _, s := range srvs {
		ms[key(s)] = s
	}
	remaining := []*opWrap{}
	for _, s := range c.openers {
		if v, ok := ms[s.srv]; ok && s.key == fullKey(v) {
			remaining = append(remaining, s)
			delete(ms, s.srv)
			continue
		}
		goapp.Log.Warn().Str("service", s.srv).Msgf("dropped stream service")
	}
	if len(remaining) == len(c.openers) && len(ms) == 0 {
		return nil
	}
	c.openers = remaining
	var err error
	for v, k := range ms {
		op, errInt := newOpener(v, k)
		if errInt != nil {
			err = multierr.Append(err, errInt)
			continue
		}
		c.openers = append(c.openers, op)
		goapp.Log.Info().Str("service", v).Float64("priority", op.priority).Msg("added stream service")
	}
	return err
}

func newOpener(v string, s *api.ServiceEntry) (*opWrap, error) {
	cl, err := stream.NewClient(getURL(s))
	if err != nil {
		return nil, fmt.Errorf("can't init stream client for %s: %v", v, err)
	}
	priority, err := getPriority(s)
	if err != nil {
		return nil, fmt.Errorf("can't init stream client for %s: %v", v, err)
	}
	res := &opWrap{real: cl, srv: v, key: fullKey(s), priority: priority}
	return res, nil
}

func getURL(s *api.ServiceEntry) string {
	if v, ok := s.Service.Meta[streamKey]; ok && v != "" {
		return v
	}
	proto := "http"
	if v, ok := s.Service.Meta[isHTTPSSLKey]; ok && v == "true" {
		proto = "https"
	}
	return fmt.Sprintf("%s://%s:%d", proto, s.Service.Address, s.Service.Port)
}

func getPriority(s *api.ServiceEntry) (float64, error) {
	v, ok := s.Service.Meta[priorityKey]
	if !ok || v == "" {
		return 1, nil
	}
	res, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("wrong priority '%s': %v", v, err)
	}
	return res, nil
}

func key(s *api.ServiceEntry) string {
	return fmt.Sprintf("%s:%d", s.Service.Address, s.Service.Port)
}

func fullKey(s *api.ServiceEntry) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", s.Service.Address, s.Service.Port,
		s.Service.Meta[streamKey], s.Service.Meta[isHTTPSSLKey], s.Service.Meta[priorityKey])
}
