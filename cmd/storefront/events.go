package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallbiznis/storefront/internal/account"
	"github.com/smallbiznis/storefront/internal/cart"
	"github.com/smallbiznis/storefront/internal/payment"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/purchase"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// paymentRunner hands a started payment service to fn.
type paymentRunner func(ctx context.Context, fn func(context.Context, paymentdomain.Service) error) error

func eventsCmd() *cobra.Command {
	return newEventsCmd(withPaymentService)
}

func newEventsCmd(run paymentRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay stored payment events",
	}
	cmd.AddCommand(eventsFailedCmd(run))
	cmd.AddCommand(eventsReplayCmd(run))
	return cmd
}

func eventsFailedCmd(run paymentRunner) *cobra.Command {
	var (
		limit     int
		pageToken string
	)

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List events whose processing failed and has not succeeded since",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), func(ctx context.Context, svc paymentdomain.Service) error {
				items, pageInfo, err := svc.ListFailed(ctx, pagination.Pagination{PageSize: limit, PageToken: pageToken})
				if err != nil {
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				for _, item := range items {
					if err := enc.Encode(failedEventView(item)); err != nil {
						return err
					}
				}
				if pageInfo != nil && pageInfo.HasMore {
					fmt.Fprintf(cmd.ErrOrStderr(), "next page: --page-token %s\n", pageInfo.NextPageToken)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", pagination.DefaultPageSize, "maximum events per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "continue from a previous page")
	return cmd
}

func eventsReplayCmd(run paymentRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Re-run a stored, unprocessed provider event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), func(ctx context.Context, svc paymentdomain.Service) error {
				if err := svc.Replay(ctx, args[0]); err != nil {
					return fmt.Errorf("replay %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "event %s processed\n", args[0])
				return nil
			})
		},
	}
}

type failedEvent struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	ReceivedAt string `json:"received_at"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error"`
}

func failedEventView(record paymentdomain.EventRecord) failedEvent {
	view := failedEvent{
		EventID:    record.ProviderEventID,
		EventType:  record.EventType,
		ReceivedAt: record.ReceivedAt.UTC().Format(time.RFC3339),
		Attempts:   record.Attempts,
	}
	if record.LastError != nil {
		view.LastError = *record.LastError
	}
	return view
}

func withPaymentService(ctx context.Context, fn func(context.Context, paymentdomain.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var svc paymentdomain.Service
	app := fx.New(
		infrastructure(),
		account.Module,
		purchase.Module,
		cart.Module,
		payment.Module,
		fx.Populate(&svc),
		fx.NopLogger,
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	return fn(ctx, svc)
}
