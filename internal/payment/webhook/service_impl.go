package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/storefront/internal/clock"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const SignatureHeader = "Stripe-Signature"

const (
	outcomeRejected  = "rejected"
	outcomeDuplicate = "duplicate"
	outcomeInFlight  = "in_flight"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Verifier   paymentdomain.Verifier
	Reconciler paymentdomain.Reconciler
	Repo       paymentdomain.Repository
	Lease      Lease               `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	verifier   paymentdomain.Verifier
	reconciler paymentdomain.Reconciler
	repo       paymentdomain.Repository
	lease      Lease
	obsMetrics *obsmetrics.Metrics
	validate   *validator.Validate
}

func NewService(p Params) paymentdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      clk,
		verifier:   p.Verifier,
		reconciler: p.Reconciler,
		repo:       p.Repo,
		lease:      p.Lease,
		obsMetrics: p.ObsMetrics,
		validate:   validator.New(),
	}
}

// IngestWebhook verifies and reconciles one delivery. A bad signature or an
// undecodable body is returned before anything is written; every later
// problem is logged, stored on the event row and acknowledged.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	event, err := s.verifier.ConstructEvent(payload, headers.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			s.log.Warn("payment webhook signature rejected", zap.Int("payload_bytes", len(payload)))
		} else {
			s.log.Warn("payment webhook body rejected", zap.Error(err))
		}
		s.obsMetrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, "", outcomeRejected)
		return err
	}

	ctx = obscontext.WithEvent(ctx, event.ID, event.Type)
	log := obslogger.WithContext(ctx, s.log)

	record, err := s.recordEvent(ctx, event, payload)
	if err != nil {
		log.Error("failed to record payment event", zap.Error(err))
	}
	if record != nil && record.ProcessedAt != nil {
		log.Info("duplicate payment event acknowledged")
		s.obsMetrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, event.Type, outcomeDuplicate)
		return nil
	}

	// Failures are stored on the event row for replay; the provider still gets a 200.
	_ = s.processLeased(ctx, log, record, event)
	return nil
}

// Replay re-runs a stored event that has not been processed yet. The payload
// was verified when it was first received.
func (s *Service) Replay(ctx context.Context, providerEventID string) error {
	providerEventID = strings.TrimSpace(providerEventID)
	if providerEventID == "" {
		return paymentdomain.ErrEventNotFound
	}

	record, err := s.repo.FindEvent(ctx, s.db, paymentdomain.ProviderStripe, providerEventID)
	if err != nil {
		return err
	}
	if record == nil {
		return paymentdomain.ErrEventNotFound
	}
	if record.ProcessedAt != nil {
		return paymentdomain.ErrEventAlreadyProcessed
	}

	event, err := s.verifier.DecodeEvent(record.Payload)
	if err != nil {
		return err
	}
	ctx = obscontext.WithEvent(ctx, event.ID, event.Type)
	log := obslogger.WithContext(ctx, s.log).With(zap.Bool("replay", true))

	return s.processLeased(ctx, log, record, event)
}

func (s *Service) ListFailed(ctx context.Context, page pagination.Pagination) ([]paymentdomain.EventRecord, *pagination.PageInfo, error) {
	if err := page.Validate(s.validate); err != nil {
		return nil, nil, err
	}

	var after *pagination.Cursor
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		after = cursor
	}

	items, err := s.repo.ListFailed(ctx, s.db, paymentdomain.ProviderStripe, after, page.PageSize+1)
	if err != nil {
		return nil, nil, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(item paymentdomain.EventRecord) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.ReceivedAt.UTC().Format(time.RFC3339),
		})
		return token
	})
	return items, pageInfo, nil
}

func (s *Service) recordEvent(ctx context.Context, event *paymentdomain.Event, payload []byte) (*paymentdomain.EventRecord, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}
	return s.repo.FindEvent(ctx, s.db, paymentdomain.ProviderStripe, event.ID)
}

func (s *Service) processLeased(ctx context.Context, log *zap.Logger, record *paymentdomain.EventRecord, event *paymentdomain.Event) error {
	if s.lease != nil {
		token, ok, err := s.lease.TryAcquire(ctx, event.ID)
		switch {
		case err != nil:
			log.Warn("payment event lease unavailable, processing without it", zap.Error(err))
		case !ok:
			log.Info("payment event already in flight")
			s.obsMetrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, event.Type, outcomeInFlight)
			return paymentdomain.ErrEventInFlight
		default:
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), event.ID, token); err != nil {
					log.Warn("failed to release payment event lease", zap.Error(err))
				}
			}()
		}
	}
	return s.process(ctx, log, record, event)
}

func (s *Service) process(ctx context.Context, log *zap.Logger, record *paymentdomain.EventRecord, event *paymentdomain.Event) error {
	outcome, err := s.reconciler.Reconcile(ctx, event)
	switch {
	case err == nil:
		log.Info("payment event processed",
			zap.String("action", outcome.Action),
			zap.String("checkout_kind", outcome.CheckoutKind),
		)
		s.obsMetrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, event.Type, outcome.Action)
	case paymentdomain.IsLookupMiss(err):
		log.Warn("payment event does not match local state", zap.Error(err))
		s.obsMetrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, event.Type, outcomeSkipped)
	default:
		log.Error("payment event processing failed", zap.Error(err))
		s.obsMetrics.RecordWebhookEvent(ctx, paymentdomain.ProviderStripe, event.Type, outcomeFailed)
		if record != nil {
			if recErr := s.repo.RecordFailure(ctx, s.db, record.ID, err.Error()); recErr != nil {
				log.Error("failed to record payment event failure", zap.Error(recErr))
			}
		}
		return err
	}

	if record != nil {
		if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
			log.Error("failed to mark payment event processed", zap.Error(err))
		}
	}
	return nil
}
