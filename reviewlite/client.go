// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package reviewlite is the client side of the trialbyte change-review workflow.
//
// It submits change requests to the review queue, lists and acts on the queue,
// and runs the direct-mutation editors for trials and drugs. When a direct
// edit cannot be confirmed by the backend the intended change is kept in a
// localstore.Store so callers can keep rendering it; an optional reconciler
// replays those records once the backend is reachable again.
package reviewlite

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Darsh1153/trialbyte-v3-sub002/localstore"
)

// Session identifies the acting user. It is passed explicitly into every
// workflow call.
type Session struct {
	UserID string
	Role   string
	Token  string // bearer token; empty sends no Authorization header
}

func (s Session) check() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrNoSession
	}
	return nil
}

// DrugUpdateMode selects how SaveDrug talks to the backend.
type DrugUpdateMode string

const (
	// DrugUpdateNewVersion posts the merged drug as a new record linked to
	// the original. Works against backends that block PATCH cross-origin.
	DrugUpdateNewVersion DrugUpdateMode = "new_version"
	// DrugUpdatePatch sends a partial PATCH to the drug overview.
	DrugUpdatePatch DrugUpdateMode = "patch"
)

// Config holds configuration for the review client
type Config struct {
	Namespace       string         // localstore namespace, e.g. "trialbyte"
	RequestTimeout  time.Duration  // HTTP client timeout; also bounds the probe
	MutationTimeout time.Duration  // 5s
	ProbeTimeout    time.Duration  // 0 = no dedicated probe deadline
	DrugUpdateMode  DrugUpdateMode // new_version
	AutoReconcile   bool           // Start refuses to run unless set
	BackoffMin      time.Duration  // 15s
	BackoffMax      time.Duration  // 5m
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		Namespace:       "trialbyte",
		RequestTimeout:  30 * time.Second,
		MutationTimeout: 5000 * time.Millisecond,
		DrugUpdateMode:  DrugUpdateNewVersion,
		BackoffMin:      15 * time.Second,
		BackoffMax:      5 * time.Minute,
	}
}

// Client talks to the trialbyte backend on behalf of a session.
// It is safe for concurrent use.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Store   *localstore.Store
	Events  EventRecorder
	config  *Config
	logger  *slog.Logger

	reviewFlight singleflight.Group
	newKey       func() string
	now          func() time.Time

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewClient creates a client for baseURL. store receives fallback records and
// drug version mappings.
func NewClient(baseURL string, store *localstore.Store, config *Config, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL must be provided")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MutationTimeout <= 0 {
		return nil, fmt.Errorf("config.MutationTimeout must be positive")
	}
	if config.DrugUpdateMode == "" {
		config.DrugUpdateMode = DrugUpdateNewVersion
	}
	if config.DrugUpdateMode != DrugUpdateNewVersion && config.DrugUpdateMode != DrugUpdatePatch {
		return nil, fmt.Errorf("unknown drug update mode %q", config.DrugUpdateMode)
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = time.Second
	}
	if config.BackoffMax < config.BackoffMin {
		config.BackoffMax = config.BackoffMin
	}
	if logger == nil {
		logger = slog.Default()
	}

	registerEntityTypes(store)

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: config.RequestTimeout},
		Store:   store,
		config:  config,
		logger:  logger,
		newKey:  func() string { return uuid.NewString() },
		now:     time.Now,
	}, nil
}

// Config returns the client's configuration.
func (c *Client) Config() Config { return *c.config }
