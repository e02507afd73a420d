// Package tracker turns inbound messages into target state. It owns the
// ingestion pipeline: dedup, classification, extraction, geocoding,
// identity resolution and lifecycle updates.
package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gustycube/skywatch/internal/classify"
	"github.com/gustycube/skywatch/internal/clock"
	"github.com/gustycube/skywatch/internal/dedup"
	"github.com/gustycube/skywatch/internal/extract"
	"github.com/gustycube/skywatch/internal/geocode"
	"github.com/gustycube/skywatch/internal/lifecycle"
	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/metrics"
	"github.com/gustycube/skywatch/internal/registry"
	"github.com/gustycube/skywatch/internal/resolve"
	"github.com/gustycube/skywatch/internal/types"
)

const DefaultGeocodeTimeout = 5 * time.Second

type Outcome string

const (
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
)

// Result describes what a single message did.
type Result struct {
	Outcome Outcome
	Target  *types.Target
	Method  resolve.Method
	Reason  string
}

type Options struct {
	Classifier     *classify.Classifier
	Geocoder       geocode.Geocoder
	Resolver       *resolve.Resolver
	Engine         *lifecycle.Engine
	Shared         dedup.Shared
	Clock          clock.Clock
	GeocodeTimeout time.Duration
	Log            *logging.Logger
}

type Tracker struct {
	reg            *registry.Registry
	cls            *classify.Classifier
	ext            *extract.Extractor
	geo            geocode.Geocoder
	res            *resolve.Resolver
	eng            *lifecycle.Engine
	shared         dedup.Shared
	clock          clock.Clock
	geocodeTimeout time.Duration
	log            *logging.Logger
	subscribers    []func(types.Change)
}

func New(reg *registry.Registry, opts Options) *Tracker {
	t := &Tracker{
		reg:            reg,
		cls:            opts.Classifier,
		ext:            extract.New(),
		geo:            opts.Geocoder,
		res:            opts.Resolver,
		eng:            opts.Engine,
		shared:         opts.Shared,
		clock:          opts.Clock,
		geocodeTimeout: opts.GeocodeTimeout,
		log:            opts.Log,
	}
	if t.cls == nil {
		t.cls = classify.New(nil, 0)
	}
	if t.res == nil {
		t.res = resolve.New(resolve.DefaultWeights())
	}
	if t.eng == nil {
		t.eng = lifecycle.New(t.cls, lifecycle.DefaultConfig())
	}
	if t.clock == nil {
		t.clock = clock.Real{}
	}
	if t.geocodeTimeout <= 0 {
		t.geocodeTimeout = DefaultGeocodeTimeout
	}
	if t.log == nil {
		t.log = logging.Nop()
	}
	return t
}

// Subscribe registers fn to receive every committed change. Subscribers
// run synchronously after the registry lock is released and must not block.
func (t *Tracker) Subscribe(fn func(types.Change)) {
	t.subscribers = append(t.subscribers, fn)
}

func (t *Tracker) publish(c types.Change) {
	for _, fn := range t.subscribers {
		fn(c)
	}
}

// Handle adapts Ingest to the transport handler signature.
func (t *Tracker) Handle(ctx context.Context, ev types.Event) error {
	_, err := t.Ingest(ctx, ev)
	return err
}

// Ingest processes one message. Unusable input is reported through the
// Result, not as an error; errors mean a registry invariant was violated.
func (t *Tracker) Ingest(ctx context.Context, ev types.Event) (Result, error) {
	ctx, span := otel.Tracer("skywatch/tracker").Start(ctx, "tracker.ingest")
	defer span.End()
	span.SetAttributes(attribute.Int64("message.id", ev.MessageID), attribute.Int64("message.reply_to", ev.ReplyTo))

	res, err := t.ingest(ctx, ev)
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.MessagesTotal.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.MessagesTotal.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

func (t *Tracker) ingest(ctx context.Context, ev types.Event) (Result, error) {
	now := t.clock.Now()
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Result{Outcome: OutcomeDropped, Reason: "empty"}, nil
	}

	if !t.reg.Accept(text, now) {
		t.log.Debugw("duplicate message", "id", ev.MessageID)
		return Result{Outcome: OutcomeDuplicate}, nil
	}
	if t.shared != nil && t.shared.Seen(ctx, dedup.Fingerprint(text)) {
		t.log.Debugw("duplicate message across instances", "id", ev.MessageID)
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	match := t.cls.Classify(text)
	ex := t.ext.Extract(text, match.Keyword)
	loc := t.locate(ctx, ex.Place)

	var (
		out    Result
		change types.Change
	)
	err := t.reg.Update(now, func(tx *registry.Tx) error {
		r := t.res.Resolve(tx, resolve.Query{ReplyTo: ev.ReplyTo, Category: match.Category, Place: loc})
		out.Method = r.Method
		u := lifecycle.Update{
			Text:       text,
			MessageID:  ev.MessageID,
			Category:   match.Category,
			Location:   loc,
			Bearing:    ex.Bearing,
			Confidence: r.Confidence,
			ReportedAt: ev.ReceivedAt,
		}

		var (
			tgt types.Target
			err error
		)
		if r.Target == nil {
			if loc == nil {
				out.Outcome, out.Reason = OutcomeDropped, "no location"
				return nil
			}
			tgt, err = t.eng.Create(tx, u)
			out.Outcome, change.Kind = OutcomeCreated, types.ChangeCreated
		} else {
			tgt, err = t.eng.Apply(tx, *r.Target, u)
			out.Outcome, change.Kind = OutcomeUpdated, types.ChangeUpdated
		}
		if err != nil {
			return err
		}
		if ev.MessageID != 0 {
			if err := tx.Link(ev.MessageID, tgt.ID); err != nil {
				return err
			}
		}
		out.Target = &tgt
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.ResolutionsTotal.WithLabelValues(string(out.Method)).Inc()
	if out.Target == nil {
		t.log.Debugw("message dropped", "id", ev.MessageID, "reason", out.Reason, "category", match.Category)
		return out, nil
	}

	metrics.TargetsActive.Set(float64(t.reg.Stats().Targets))
	t.log.Infow("target "+string(out.Outcome),
		"target", out.Target.ID,
		"category", out.Target.Category,
		"status", out.Target.Status,
		"label", out.Target.Label,
		"method", out.Method,
		"message", ev.MessageID,
	)
	change.Target = out.Target
	change.At = now
	t.publish(change)
	return out, nil
}

// locate geocodes place with a bounded timeout. Any failure yields nil so
// processing falls back to direction-only handling.
func (t *Tracker) locate(ctx context.Context, place string) *types.Location {
	if place == "" || t.geo == nil {
		metrics.GeocodeTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	gctx, cancel := context.WithTimeout(ctx, t.geocodeTimeout)
	defer cancel()

	res, err := t.geo.Geocode(gctx, place)
	switch {
	case err == nil:
		metrics.GeocodeTotal.WithLabelValues("ok").Inc()
		return res.Location()
	case errors.Is(err, geocode.ErrNotFound):
		metrics.GeocodeTotal.WithLabelValues("not_found").Inc()
		t.log.Debugw("place not found", "place", place)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.GeocodeTotal.WithLabelValues("timeout").Inc()
		t.log.Warnw("geocode timed out", "place", place, "timeout", t.geocodeTimeout)
	default:
		metrics.GeocodeTotal.WithLabelValues("error").Inc()
		t.log.Warnw("geocode failed", "place", place, "err", err)
	}
	return nil
}

// ListActive returns live targets at the current time.
func (t *Tracker) ListActive() []types.Target {
	return t.reg.ListActive(t.clock.Now())
}

// ClearAll drops every target and reply link.
func (t *Tracker) ClearAll() int {
	n := t.reg.Clear()
	metrics.TargetsActive.Set(0)
	t.log.Infow("registry cleared", "targets", n)
	t.publish(types.Change{Kind: types.ChangeCleared, At: t.clock.Now()})
	return n
}

// Now exposes the tracker's clock.
func (t *Tracker) Now() time.Time { return t.clock.Now() }
