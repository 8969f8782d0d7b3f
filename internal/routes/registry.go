package routes

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/middleware"
	"github.com/idregistry/idregistry/internal/registry"
)

const (
	defaultEventsPage = 100
	maxEventsPage     = 1000
	maxEventsWait     = 30 * time.Second
)

// EventFeed is the view of the event log served to subscribers. The node
// passes a journal-gated feed so nothing unjournaled leaves the process.
type EventFeed interface {
	Since(after uint64, limit int) []registry.Event
	Wait(ctx context.Context, after uint64, limit int) ([]registry.Event, error)
}

// RegistryHandler serves the registry node API.
type RegistryHandler struct {
	reg     *registry.Registry
	feed    EventFeed
	metrics *metrics.Metrics
}

// NewRegistryHandler constructs a registry HTTP handler. A nil feed serves
// the in-memory log directly.
func NewRegistryHandler(reg *registry.Registry, feed EventFeed, m *metrics.Metrics) *RegistryHandler {
	if feed == nil {
		feed = reg.Events()
	}
	m.SetTotalVerified(reg.TotalVerified())
	return &RegistryHandler{reg: reg, feed: feed, metrics: m}
}

// RegisterRegistryRoutes wires registry endpoints. Static paths are
// registered before the :address routes they would otherwise collide with.
func RegisterRegistryRoutes(r fiber.Router, h *RegistryHandler, p Protection) {
	g := r.Group("/registry")

	g.Get("/stats", h.Stats)
	g.Get("/accounts", h.Accounts)
	g.Get("/events", h.Events)
	g.Post("/submit", chain(p.Auth, p.Idempotency, p.RateLimit, h.Submit)...)

	g.Get("/:address", h.Query)
	g.Get("/:address/check", h.Check)
	g.Post("/:address/revoke", chain(p.Auth, p.Idempotency, h.Revoke)...)
}

// Submit records a verification for the authenticated caller.
func (h *RegistryHandler) Submit(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing caller")
	}
	var req registry.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	ev, err := h.reg.Submit(caller, req.IdentityHash)
	h.metrics.ObserveSubmission(outcome(err))
	if err != nil {
		return err
	}
	h.metrics.SetTotalVerified(h.reg.TotalVerified())
	return c.Status(http.StatusCreated).JSON(ev)
}

// Revoke withdraws the verification of the address in the path. Only the
// registry owner may call it.
func (h *RegistryHandler) Revoke(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing caller")
	}
	subject, err := account.Parse(c.Params("address"))
	if err != nil {
		return err
	}

	ev, err := h.reg.Revoke(caller, subject)
	h.metrics.ObserveRevocation(outcome(err))
	if err != nil {
		return err
	}
	h.metrics.SetTotalVerified(h.reg.TotalVerified())
	return c.Status(http.StatusOK).JSON(ev)
}

// Query returns the full record; never-submitted accounts get an empty one.
func (h *RegistryHandler) Query(c *fiber.Ctx) error {
	subject, err := account.Parse(c.Params("address"))
	if err != nil {
		return err
	}
	return c.JSON(registry.NewRecordResponse(subject, h.reg.Query(subject)))
}

// Check answers whether the address is currently verified.
func (h *RegistryHandler) Check(c *fiber.Ctx) error {
	subject, err := account.Parse(c.Params("address"))
	if err != nil {
		return err
	}
	return c.JSON(registry.CheckResponse{Address: subject, Verified: h.reg.Check(subject)})
}

// Stats summarises the registry.
func (h *RegistryHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(registry.StatsResponse{
		Owner:         h.reg.Owner(),
		TotalVerified: h.reg.TotalVerified(),
		Accounts:      h.reg.AccountCount(),
		LastSeq:       uint64(h.reg.Events().Len()),
	})
}

// Accounts lists enumerated accounts. unique=true collapses repeats when the
// registry enumerates re-submissions.
func (h *RegistryHandler) Accounts(c *fiber.Ctx) error {
	accounts := h.reg.Accounts()
	if c.QueryBool("unique") {
		seen := make(map[account.Address]struct{}, len(accounts))
		out := accounts[:0]
		for _, a := range accounts {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
		accounts = out
	}
	if accounts == nil {
		accounts = []account.Address{}
	}
	return c.JSON(registry.AccountsResponse{Accounts: accounts})
}

// Events pages through the event log. With wait set the request is held
// until events after the cursor exist or the wait elapses.
func (h *RegistryHandler) Events(c *fiber.Ctx) error {
	after, err := strconv.ParseUint(c.Query("after", "0"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "after must be a sequence number")
	}
	limit := c.QueryInt("limit", defaultEventsPage)
	if limit <= 0 || limit > maxEventsPage {
		limit = maxEventsPage
	}
	var wait time.Duration
	if v := c.Query("wait"); v != "" {
		if wait, err = time.ParseDuration(v); err != nil || wait < 0 {
			return fiber.NewError(http.StatusBadRequest, "wait must be a duration")
		}
		if wait > maxEventsWait {
			wait = maxEventsWait
		}
	}

	events := h.feed.Since(after, limit)
	if len(events) == 0 && wait > 0 {
		ctx, cancel := context.WithTimeout(c.UserContext(), wait)
		defer cancel()
		events, err = h.feed.Wait(ctx, after, limit)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	if events == nil {
		events = []registry.Event{}
	}
	return c.JSON(registry.EventsResponse{Events: events})
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	_, code := middleware.Classify(err)
	return code
}
