package service

import (
	"testing"
	"time"

	"github.com/flexprice/subsync/internal/domain/events"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/testutil"
	"github.com/flexprice/subsync/internal/types"
	"github.com/flexprice/subsync/internal/webhook"
	"github.com/stretchr/testify/suite"
)

type EventProcessorSuite struct {
	testutil.BaseServiceTestSuite
	processor EventProcessor
}

func TestEventProcessor(t *testing.T) {
	suite.Run(t, new(EventProcessorSuite))
}

func (s *EventProcessorSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.processor = NewEventProcessor(newTestParams(&s.BaseServiceTestSuite))
}

func invoicePaidEvent(eventID, providerSubID string, start, end time.Time) *events.ProviderEvent {
	return &events.ProviderEvent{
		ProviderEventID: eventID,
		Type:            types.WebhookEventTypeInvoicePaid,
		OccurredAt:      time.Now().UTC(),
		Payload: events.InvoicePaidPayload{
			ProviderSubscriptionID: providerSubID,
			PeriodStart:            start,
			PeriodEnd:              end,
		},
	}
}

func (s *EventProcessorSuite) TestRenewalAdvancesPeriod() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_renew")

	newStart := sub.CurrentPeriodEnd
	newEnd := newStart.AddDate(0, 1, 0)
	result, err := s.processor.Handle(s.GetContext(), invoicePaidEvent("evt_renew_1", "sub_renew", newStart, newEnd))
	s.NoError(err)
	s.True(result.Acked)
	s.False(result.Duplicate)

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.True(stored.CurrentPeriodStart.Equal(newStart))
	s.True(stored.CurrentPeriodEnd.Equal(newEnd))
}

func (s *EventProcessorSuite) TestDuplicateDeliveryIsAckedOnce() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_dup")

	event := invoicePaidEvent("evt_dup", "sub_dup", sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0))

	first, err := s.processor.Handle(s.GetContext(), event)
	s.NoError(err)
	s.True(first.Acked)

	versionAfterFirst, _ := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)

	second, err := s.processor.Handle(s.GetContext(), event)
	s.NoError(err)
	s.True(second.Acked)
	s.True(second.Duplicate)

	// the second delivery changed nothing
	versionAfterSecond, _ := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.Equal(versionAfterFirst.Version, versionAfterSecond.Version)
}

func (s *EventProcessorSuite) TestPendingEntryRejectsConcurrentDelivery() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_pending")

	event := invoicePaidEvent("evt_pending", "sub_pending", time.Now().UTC(), time.Now().UTC().AddDate(0, 1, 0))

	// simulate a delivery claimed but still in flight
	_, inserted, err := s.GetEventStore().Claim(s.GetContext(),
		events.NewWebhookEvent(s.GetContext(), event.ProviderEventID, event.Type))
	s.Require().NoError(err)
	s.Require().True(inserted)

	_, err = s.processor.Handle(s.GetContext(), event)
	s.Error(err)
	s.True(ierr.IsBusy(err))
}

func (s *EventProcessorSuite) TestFailureMarksLedgerAndRejects() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_fail")
	_ = sub

	// the update payload carries a price the resolver cannot map
	event := &events.ProviderEvent{
		ProviderEventID: "evt_fail",
		Type:            types.WebhookEventTypeSubscriptionUpdated,
		OccurredAt:      time.Now().UTC(),
		Payload: events.SubscriptionUpdatedPayload{
			ProviderSubscriptionID: "sub_fail",
			Status:                 types.SubscriptionStatusActive,
			PriceID:                "bogus",
		},
	}

	_, err := s.processor.Handle(s.GetContext(), event)
	s.Error(err)

	entry, err := s.GetEventStore().GetByProviderEventID(s.GetContext(), "evt_fail")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusFailed, entry.ProcessingStatus)
	s.NotEmpty(entry.ErrorDetail)
}

func (s *EventProcessorSuite) TestFailedEntryReopensOnRedelivery() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_reopen")

	badEvent := &events.ProviderEvent{
		ProviderEventID: "evt_reopen",
		Type:            types.WebhookEventTypeSubscriptionUpdated,
		OccurredAt:      time.Now().UTC(),
		Payload: events.SubscriptionUpdatedPayload{
			ProviderSubscriptionID: "sub_reopen",
			Status:                 types.SubscriptionStatusActive,
			PriceID:                "bogus",
		},
	}
	_, err := s.processor.Handle(s.GetContext(), badEvent)
	s.Error(err)

	// the redelivered event carries a resolvable price and succeeds
	goodEvent := *badEvent
	goodEvent.Payload = events.SubscriptionUpdatedPayload{
		ProviderSubscriptionID: "sub_reopen",
		Status:                 types.SubscriptionStatusActive,
		PriceID:                testutil.PriceID("pro", types.BILLING_PERIOD_MONTHLY),
	}
	result, err := s.processor.Handle(s.GetContext(), &goodEvent)
	s.NoError(err)
	s.True(result.Acked)

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal("pro", stored.PlanID)

	entry, err := s.GetEventStore().GetByProviderEventID(s.GetContext(), "evt_reopen")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusCompleted, entry.ProcessingStatus)
}

func (s *EventProcessorSuite) TestFailedEntryReopensForOneDeliveryOnly() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_race")

	badEvent := &events.ProviderEvent{
		ProviderEventID: "evt_race",
		Type:            types.WebhookEventTypeSubscriptionUpdated,
		OccurredAt:      time.Now().UTC(),
		Payload: events.SubscriptionUpdatedPayload{
			ProviderSubscriptionID: "sub_race",
			Status:                 types.SubscriptionStatusActive,
			PriceID:                "bogus",
		},
	}
	_, err := s.processor.Handle(s.GetContext(), badEvent)
	s.Error(err)

	entry, err := s.GetEventStore().GetByProviderEventID(s.GetContext(), "evt_race")
	s.Require().NoError(err)

	// two redeliveries both observed the failed entry; only the first wins
	// the reopen, the second is turned away as busy
	s.NoError(s.GetEventStore().MarkPending(s.GetContext(), entry.ID))

	err = s.GetEventStore().MarkPending(s.GetContext(), entry.ID)
	s.Error(err)
	s.True(ierr.IsBusy(err))
}

func (s *EventProcessorSuite) TestRenewalLandsScheduledChange() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_landing")

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	stored.ProviderScheduleID = "sched_landing"
	change := subscriptionChange("pro", types.BILLING_PERIOD_MONTHLY, sub.CurrentPeriodEnd)
	stored.ScheduledChange = &change
	s.Require().NoError(s.GetSubscriptionStore().Update(s.GetContext(), stored))

	newStart := sub.CurrentPeriodEnd
	result, err := s.processor.Handle(s.GetContext(),
		invoicePaidEvent("evt_landing", "sub_landing", newStart, newStart.AddDate(0, 1, 0)))
	s.NoError(err)
	s.True(result.Acked)

	landed, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal("pro", landed.PlanID)
	s.Nil(landed.ScheduledChange)
	s.Empty(landed.ProviderScheduleID)

	published := s.GetPublisher().EventsOfType(webhook.EventTypeChangeLanded)
	s.Require().Len(published, 1)
	body, ok := published[0].Payload.(map[string]any)
	s.Require().True(ok)
	s.Equal(change.Reference, body["change_reference"])
}

func (s *EventProcessorSuite) TestRenewalBeforeBoundaryKeepsChange() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_early")

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	farBoundary := sub.CurrentPeriodEnd.AddDate(0, 2, 0)
	change := subscriptionChange("pro", types.BILLING_PERIOD_MONTHLY, farBoundary)
	stored.ScheduledChange = &change
	s.Require().NoError(s.GetSubscriptionStore().Update(s.GetContext(), stored))

	newStart := sub.CurrentPeriodEnd
	_, err = s.processor.Handle(s.GetContext(),
		invoicePaidEvent("evt_early", "sub_early", newStart, newStart.AddDate(0, 1, 0)))
	s.NoError(err)

	kept, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal("starter", kept.PlanID)
	s.Require().NotNil(kept.ScheduledChange)
	s.Equal("pro", kept.ScheduledChange.TargetPlanID)
}

func (s *EventProcessorSuite) TestPaymentFailureMovesToPastDue() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_pastdue")

	result, err := s.processor.Handle(s.GetContext(), &events.ProviderEvent{
		ProviderEventID: "evt_pastdue",
		Type:            types.WebhookEventTypeInvoicePaymentFailed,
		OccurredAt:      time.Now().UTC(),
		Payload:         events.InvoicePaymentFailedPayload{ProviderSubscriptionID: "sub_pastdue"},
	})
	s.NoError(err)
	s.True(result.Acked)

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, stored.SubscriptionStatus)
	// past_due still allows usage per the status policy
	s.True(stored.UsageAllowed())
}

func (s *EventProcessorSuite) TestSubscriptionUpdatedReconstructsDowngrade() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "pro", types.BILLING_PERIOD_MONTHLY, "sub_reconstruct")

	result, err := s.processor.Handle(s.GetContext(), &events.ProviderEvent{
		ProviderEventID: "evt_reconstruct",
		Type:            types.WebhookEventTypeSubscriptionUpdated,
		OccurredAt:      time.Now().UTC(),
		Payload: events.SubscriptionUpdatedPayload{
			ProviderSubscriptionID: "sub_reconstruct",
			Status:                 types.SubscriptionStatusActive,
			CancelAtPeriodEnd:      true,
			PriceID:                testutil.PriceID("pro", types.BILLING_PERIOD_MONTHLY),
			Metadata: map[string]string{
				provider.MetadataKeyDowngradeTarget: "starter",
				provider.MetadataKeyDowngradePeriod: "MONTHLY",
			},
		},
	})
	s.NoError(err)
	s.True(result.Acked)

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.True(stored.CancelAtPeriodEnd)
	s.Require().NotNil(stored.ScheduledChange)
	s.Equal("starter", stored.ScheduledChange.TargetPlanID)
	s.Equal(types.ScheduledChangeOriginCancelFlag, stored.ScheduledChange.Origin)
}

func (s *EventProcessorSuite) TestSubscriptionUpdatedClearsRetractedFlagChange() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "pro", types.BILLING_PERIOD_MONTHLY, "sub_flag_cleared")

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	stored.CancelAtPeriodEnd = true
	change := subscriptionChange("starter", types.BILLING_PERIOD_MONTHLY, sub.CurrentPeriodEnd)
	change.Origin = types.ScheduledChangeOriginCancelFlag
	stored.ScheduledChange = &change
	s.Require().NoError(s.GetSubscriptionStore().Update(s.GetContext(), stored))

	_, err = s.processor.Handle(s.GetContext(), &events.ProviderEvent{
		ProviderEventID: "evt_flag_cleared",
		Type:            types.WebhookEventTypeSubscriptionUpdated,
		OccurredAt:      time.Now().UTC(),
		Payload: events.SubscriptionUpdatedPayload{
			ProviderSubscriptionID: "sub_flag_cleared",
			Status:                 types.SubscriptionStatusActive,
			CancelAtPeriodEnd:      false,
			PriceID:                testutil.PriceID("pro", types.BILLING_PERIOD_MONTHLY),
		},
	})
	s.NoError(err)

	cleared, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.False(cleared.CancelAtPeriodEnd)
	s.Nil(cleared.ScheduledChange)
}

func (s *EventProcessorSuite) TestSubscriptionDeletedDemotesTenant() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_deleted")

	result, err := s.processor.Handle(s.GetContext(), &events.ProviderEvent{
		ProviderEventID: "evt_deleted",
		Type:            types.WebhookEventTypeSubscriptionDeleted,
		OccurredAt:      time.Now().UTC(),
		Payload:         events.SubscriptionDeletedPayload{ProviderSubscriptionID: "sub_deleted"},
	})
	s.NoError(err)
	s.True(result.Acked)

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, stored.SubscriptionStatus)
	s.NotNil(stored.CancelledAt)
	s.False(stored.UsageAllowed())

	// the tenant no longer has an active subscription
	_, err = s.GetSubscriptionStore().GetActiveByTenant(s.GetContext(), testutil.TenantID)
	s.True(ierr.IsNotFound(err))

	s.Len(s.GetPublisher().EventsOfType(webhook.EventTypeSubscriptionEnded), 1)
}

func (s *EventProcessorSuite) TestScheduleCreatedMirrorsFuturePhase() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_sched")

	result, err := s.processor.Handle(s.GetContext(), &events.ProviderEvent{
		ProviderEventID: "evt_sched",
		Type:            types.WebhookEventTypeScheduleCreated,
		OccurredAt:      time.Now().UTC(),
		Payload: events.ScheduleCreatedPayload{
			ScheduleID:             "sched_ext",
			ProviderSubscriptionID: "sub_sched",
			Phases: []events.SchedulePhaseInfo{
				{
					PriceID:   testutil.PriceID("starter", types.BILLING_PERIOD_MONTHLY),
					StartDate: sub.CurrentPeriodStart,
					EndDate:   sub.CurrentPeriodEnd,
				},
				{
					PriceID:   testutil.PriceID("pro", types.BILLING_PERIOD_ANNUAL),
					StartDate: sub.CurrentPeriodEnd,
				},
			},
		},
	})
	s.NoError(err)
	s.True(result.Acked)

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal("sched_ext", stored.ProviderScheduleID)
	s.Require().NotNil(stored.ScheduledChange)
	s.Equal("pro", stored.ScheduledChange.TargetPlanID)
	s.Equal(types.BILLING_PERIOD_ANNUAL, stored.ScheduledChange.TargetBillingPeriod)
	s.True(stored.ScheduledChange.EffectiveAt.Equal(sub.CurrentPeriodEnd))
}

func (s *EventProcessorSuite) TestOutOfOrderScheduleCreatedIsIgnored() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "pro", types.BILLING_PERIOD_MONTHLY, "sub_stale")

	// the phase boundary is already behind the current period start: the
	// change landed before this delivery arrived
	stalePhaseStart := sub.CurrentPeriodStart.AddDate(0, -1, 0)
	result, err := s.processor.Handle(s.GetContext(), &events.ProviderEvent{
		ProviderEventID: "evt_stale",
		Type:            types.WebhookEventTypeScheduleCreated,
		OccurredAt:      time.Now().UTC(),
		Payload: events.ScheduleCreatedPayload{
			ScheduleID:             "sched_stale",
			ProviderSubscriptionID: "sub_stale",
			Phases: []events.SchedulePhaseInfo{
				{
					PriceID:   testutil.PriceID("starter", types.BILLING_PERIOD_MONTHLY),
					StartDate: stalePhaseStart.AddDate(0, -1, 0),
					EndDate:   stalePhaseStart,
				},
				{
					PriceID:   testutil.PriceID("pro", types.BILLING_PERIOD_MONTHLY),
					StartDate: stalePhaseStart,
				},
			},
		},
	})
	s.NoError(err)
	s.True(result.Acked)

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Nil(stored.ScheduledChange)
}

func (s *EventProcessorSuite) TestScheduleReleasedClearsChange() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_released")

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	stored.ProviderScheduleID = "sched_released"
	change := subscriptionChange("pro", types.BILLING_PERIOD_MONTHLY, sub.CurrentPeriodEnd)
	stored.ScheduledChange = &change
	s.Require().NoError(s.GetSubscriptionStore().Update(s.GetContext(), stored))

	_, err = s.processor.Handle(s.GetContext(), &events.ProviderEvent{
		ProviderEventID: "evt_released",
		Type:            types.WebhookEventTypeScheduleReleased,
		OccurredAt:      time.Now().UTC(),
		Payload: events.ScheduleReleasedPayload{
			ScheduleID:             "sched_released",
			ProviderSubscriptionID: "sub_released",
		},
	})
	s.NoError(err)

	cleared, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Empty(cleared.ProviderScheduleID)
	s.Nil(cleared.ScheduledChange)
}

func (s *EventProcessorSuite) TestUnknownSubscriptionIsAckedNoOp() {
	result, err := s.processor.Handle(s.GetContext(),
		invoicePaidEvent("evt_unknown", "sub_does_not_exist", time.Now().UTC(), time.Now().UTC().AddDate(0, 1, 0)))
	s.NoError(err)
	s.True(result.Acked)
}
