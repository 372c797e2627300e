// Package lifecycle implements the install and activate phases of a cache version.
//
// A version goes through Installing, Waiting, Active and finally Superseded
// when a newer version activates. Installing pre-warms the static generation
// from a manifest, activating deletes the generations of older versions and
// takes control of all open clients.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/core"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNotOK is returned when a manifest URL does not answer with 200.
var ErrNotOK = errors.New("response status is not 200")

// Number of manifest URLs fetched concurrently during install.
const prewarmConcurrency = 4

type State int

const (
	Installing State = iota
	Waiting
	Active
	Superseded
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Superseded:
		return "superseded"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Claimer takes control of the open clients on activation.
type Claimer interface {
	// Claim hands all open clients over to the version and returns how many there were.
	Claim(version string) int
}

type Config struct {
	Store *cache.Store
	Names cache.Names
	// URLs stored in the static generation on install.
	// Relative URLs are same-origin, absolute URLs may be cross-origin.
	Manifest []string
	Fetcher  core.Fetcher
	// Optional, no clients are claimed if nil.
	Claimer Claimer
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Coordinator struct {
	store    *cache.Store
	names    cache.Names
	manifest []string
	fetcher  core.Fetcher
	claimer  Claimer
	log      zerolog.Logger

	mu    sync.Mutex
	state State
}

func NewCoordinator(config Config) *Coordinator {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Coordinator{
		store:    config.Store,
		names:    config.Names,
		manifest: config.Manifest,
		fetcher:  config.Fetcher,
		claimer:  config.Claimer,
		log:      logger.With().Str("version", config.Names.Version).Logger(),
		state:    Installing,
	}
}

func (c *Coordinator) Names() cache.Names {
	return c.names
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("Lifecycle state change")
}

// Install pre-warms the static generation and moves the version to Waiting.
// A failed pre-warm is logged and returned, but the install completes anyway.
func (c *Coordinator) Install(ctx context.Context) error {
	c.log.Info().Int("manifest", len(c.manifest)).Msg("Installing")
	err := c.prewarm(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Pre-warm failed, continuing install")
	}
	c.setState(Waiting)
	return err
}

// prewarm fetches all manifest URLs and stores them in the static generation.
// Like cache.addAll, it is all or nothing: nothing is stored unless every URL answered with 200.
func (c *Coordinator) prewarm(ctx context.Context) error {
	gen, err := c.store.Open(ctx, c.names.Static())
	if err != nil {
		return err
	}

	reqs := make([]*http.Request, len(c.manifest))
	responses := make([]*http.Response, len(c.manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prewarmConcurrency)
	for i, uri := range c.manifest {
		i, uri := i, uri
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
			if err != nil {
				return fmt.Errorf("manifest entry %s: %w", uri, err)
			}
			res, err := c.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", uri, err)
			}
			if res.StatusCode != http.StatusOK {
				res.Body.Close()
				return fmt.Errorf("fetch %s: %w (%d)", uri, ErrNotOK, res.StatusCode)
			}
			// the body must be read before the group context is cancelled
			if _, err := serializer.ReadBody(res); err != nil {
				return fmt.Errorf("read %s: %w", uri, err)
			}
			reqs[i] = req
			responses[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, res := range responses {
		if err := gen.Put(ctx, reqs[i], res); err != nil {
			return fmt.Errorf("store %s: %w", c.manifest[i], err)
		}
	}
	c.log.Debug().Int("entries", len(responses)).Str("generation", gen.Name()).Msg("Pre-warmed")
	return nil
}

// Activate deletes stale generations, claims all clients and moves the version to Active.
// Cleanup failures are logged, activation always completes.
func (c *Coordinator) Activate(ctx context.Context) error {
	c.log.Info().Msg("Activating")
	_, err := c.Cleanup(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Cleanup failed during activation")
	}
	c.setState(Active)
	if c.claimer != nil {
		claimed := c.claimer.Claim(c.names.Version)
		c.log.Debug().Int("clients", claimed).Msg("Claimed clients")
	}
	return err
}

// Cleanup deletes every generation in the namespace that is not current.
// It can run at any point of the lifecycle. The deleted names are returned.
func (c *Coordinator) Cleanup(ctx context.Context) ([]string, error) {
	names, err := c.store.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	deleted := make([]string, 0)
	var errs []error
	for _, name := range names {
		if !c.names.Stale(name) {
			continue
		}
		if err := c.store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete generation %s: %w", name, err))
			continue
		}
		c.log.Info().Str("generation", name).Msg("Deleted stale generation")
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}

// Supersede marks the version as replaced by a newer one.
func (c *Coordinator) Supersede() {
	c.setState(Superseded)
}
