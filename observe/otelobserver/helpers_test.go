package otelobserver

import "github.com/aponysus/reauth/observe"

func observeRequest(id string) observe.RequestInfo { return observe.RequestInfo{ID: id} }

func observeAttempt() observe.AttemptRecord { return observe.AttemptRecord{} }

func observeTimeline() observe.Timeline { return observe.Timeline{} }
