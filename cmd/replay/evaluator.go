package main

import (
	"context"
	"log/slog"

	"github.com/mbd888/callwatch/internal/calls"
	"github.com/mbd888/callwatch/internal/transcript"
	"github.com/mbd888/callwatch/pkg/callwatch"
)

// evaluator is where replayed turns go: a remote server or an in-process service.
type evaluator interface {
	Start(ctx context.Context, meta transcript.CallMeta) (*callwatch.Call, error)
	Submit(ctx context.Context, callID string, turn transcript.Turn) (*callwatch.TurnResult, error)
	End(ctx context.Context, callID string) (*callwatch.Call, error)
	Rules(ctx context.Context) ([]callwatch.Rule, error)
}

func newEvaluator(apiURL string, logger *slog.Logger) evaluator {
	if apiURL == "" {
		return &localEvaluator{svc: calls.NewService(calls.NewMemoryStore(), logger)}
	}
	return &remoteEvaluator{client: callwatch.NewClient(apiURL)}
}

type remoteEvaluator struct {
	client *callwatch.Client
}

func (r *remoteEvaluator) Start(ctx context.Context, meta transcript.CallMeta) (*callwatch.Call, error) {
	return r.client.StartCall(ctx, startRequest(meta))
}

func (r *remoteEvaluator) Submit(ctx context.Context, callID string, turn transcript.Turn) (*callwatch.TurnResult, error) {
	return r.client.SubmitTurn(ctx, callID, turn)
}

func (r *remoteEvaluator) End(ctx context.Context, callID string) (*callwatch.Call, error) {
	return r.client.EndCall(ctx, callID)
}

func (r *remoteEvaluator) Rules(ctx context.Context) ([]callwatch.Rule, error) {
	return r.client.Rules(ctx)
}

type localEvaluator struct {
	svc *calls.Service
}

func (l *localEvaluator) Start(ctx context.Context, meta transcript.CallMeta) (*callwatch.Call, error) {
	return l.svc.Start(ctx, startRequest(meta))
}

func (l *localEvaluator) Submit(ctx context.Context, callID string, turn transcript.Turn) (*callwatch.TurnResult, error) {
	res, err := l.svc.Submit(ctx, callID, turn)
	if err != nil {
		return nil, err
	}
	return &callwatch.TurnResult{Turn: res.Turn, Events: res.Events, Risk: res.Risk}, nil
}

func (l *localEvaluator) End(ctx context.Context, callID string) (*callwatch.Call, error) {
	return l.svc.End(ctx, callID)
}

func (l *localEvaluator) Rules(context.Context) ([]callwatch.Rule, error) {
	return l.svc.Rules(), nil
}

func startRequest(meta transcript.CallMeta) calls.StartRequest {
	return calls.StartRequest{
		CallID:       meta.CallID,
		CustomerName: meta.CustomerName,
		StartedAt:    meta.StartedAt,
		Timezone:     meta.Timezone,
	}
}
