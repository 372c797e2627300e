// Package rfc9211 writes the Cache-Status response header field.
package rfc9211

import (
	"strconv"
	"strings"
)

const CacheName = "Offline-Cache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a response for the request, but
	// the request's routing policy required going to the network first.
	FwdReasonRequest FwdReason = "request"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// FwdStatus is the status code the network answered with, if forwarded.
	FwdStatus int
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	parts := []string{CacheName}
	switch {
	case cs.Status == StatusFwd && cs.FwdReason != "":
		parts = append(parts, "fwd="+string(cs.FwdReason))
	case cs.Status != "":
		parts = append(parts, string(cs.Status))
	}
	if cs.FwdStatus != 0 {
		parts = append(parts, "fwd-status="+strconv.Itoa(cs.FwdStatus))
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+cs.Detail)
	}
	return strings.Join(parts, "; ")
}
