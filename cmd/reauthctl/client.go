package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aponysus/reauth/budget"
	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/observe"
	"github.com/aponysus/reauth/observe/otelobserver"
	"github.com/aponysus/reauth/observe/promobserver"
	"github.com/aponysus/reauth/pipeline"
	"github.com/aponysus/reauth/refresh"
)

// client bundles what one command needs to send requests.
type client struct {
	store    credential.Store
	coord    *refresh.Coordinator
	pipeline *pipeline.Pipeline
}

// clientOverrides replaces config values; the demo uses it to point at its own
// server.
type clientOverrides struct {
	baseURL    string
	httpClient *http.Client
	invoker    refresh.Invoker
	initial    credential.Credential
}

func (a *app) openStore(ctx context.Context, initial credential.Credential) (credential.Store, error) {
	if a.cfg.RedisAddr == "" {
		return credential.NewMemoryStore(initial), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })

	store := credential.NewRedisStore(rdb, a.cfg.RedisKey, a.cfg.RedisTTL)
	if initial != "" {
		if _, ok, err := store.Get(ctx); err == nil && !ok {
			if err := store.Set(ctx, initial); err != nil {
				return nil, err
			}
		}
	}
	a.logger.Debug("using redis credential store",
		zap.String("addr", a.cfg.RedisAddr),
		zap.String("key", store.Key()),
	)
	return store, nil
}

func (a *app) newClient(ctx context.Context, o clientOverrides) (*client, error) {
	baseURL := o.baseURL
	if baseURL == "" {
		baseURL = a.cfg.BaseURL
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	initial := o.initial
	if initial == "" {
		initial = credential.Credential(a.cfg.Token)
	}

	inv := o.invoker
	if inv == nil && a.cfg.CanRefresh() {
		inv = &refresh.HTTPInvoker{
			Client: httpClient,
			URL:    a.cfg.RefreshURL,
			Header: http.Header{a.cfg.RefreshHeader: []string{a.cfg.RefreshToken}},
		}
	}

	store, err := a.openStore(ctx, initial)
	if err != nil {
		return nil, err
	}

	obs := a.observer()
	coord := refresh.NewCoordinator(inv, store,
		refresh.WithLogger(a.logger),
		refresh.WithObserver(obs),
		refresh.WithForceLogin(func(_ context.Context, cause error) {
			a.logger.Warn("session ended; log in again", zap.Error(cause))
		}),
	)

	opts := []pipeline.Option{
		pipeline.WithPolicy(a.cfg.Policy),
		pipeline.WithObserver(obs),
		pipeline.WithLogger(a.logger),
	}
	if a.cfg.BudgetCapacity > 0 {
		opts = append(opts, pipeline.WithBudget(budget.NewTokenBucketBudget(a.cfg.BudgetCapacity, a.cfg.BudgetRefillPerSecond)))
	}
	exec := &pipeline.HTTPExecutor{Client: httpClient, BaseURL: baseURL}

	return &client{
		store:    store,
		coord:    coord,
		pipeline: pipeline.New(exec, coord, opts...),
	}, nil
}

func (a *app) observer() observe.Observer {
	multi := observe.MultiObserver{}
	prom, err := promobserver.New(a.registry)
	if err != nil {
		a.logger.Warn("prometheus observer disabled", zap.Error(err))
	} else {
		multi.Observers = append(multi.Observers, prom)
	}
	if a.tracer != nil {
		multi.Observers = append(multi.Observers, otelobserver.New(a.tracer))
	}
	return multi
}
