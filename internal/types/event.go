package types

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

func (e EventType) String() string {
	return string(e)
}

const (
	EventSharesMinted          EventType = "vault.shares_minted"
	EventSharesBurned          EventType = "vault.shares_burned"
	EventSharesTransferred     EventType = "vault.shares_transferred"
	EventYieldSynced           EventType = "vault.yield_synced"
	EventStrategyAdded         EventType = "vault.strategy_added"
	EventStrategyRemoved       EventType = "vault.strategy_removed"
	EventAllocationUpdated     EventType = "vault.allocation_updated"
	EventEmergencyWithdraw     EventType = "vault.emergency_withdraw"
	EventPaused                EventType = "vault.paused"
	EventUnpaused              EventType = "vault.unpaused"
	EventYieldHarvested        EventType = "compounder.yield_harvested"
	EventHarvestRewardsClaimed EventType = "compounder.harvest_rewards_claimed"
	EventStrategySwapped       EventType = "compounder.strategy_swapped"
	EventPositionSplit         EventType = "splitter.position_split"
	EventPositionRecombined    EventType = "splitter.position_recombined"
	EventPrincipalRedeemed     EventType = "splitter.principal_redeemed"
	EventYieldDistributed      EventType = "splitter.yield_distributed"
	EventReserveFunded         EventType = "splitter.reserve_funded"
	EventPortfolioIssued       EventType = "portfolio.issued"
	EventPortfolioRedeemed     EventType = "portfolio.redeemed"
	EventPortfolioRebalanced   EventType = "portfolio.rebalanced"
	EventPositionAdded         EventType = "portfolio.position_added"
	EventPositionRemoved       EventType = "portfolio.position_removed"
	EventWeightsUpdated        EventType = "portfolio.weights_updated"
	EventPositionsHarvested    EventType = "portfolio.positions_harvested"
)

// Event is the structured record emitted synchronously after every
// successful mutation, mirrored to the event log collection and published to
// the queue for off-platform observers.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Component  string            `json:"component"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func NewEvent(eventType EventType, component string, attributes map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Component:  component,
		Timestamp:  time.Now().UTC(),
		Attributes: attributes,
	}
}

// EventSink receives events from the engines. Implementations must not fail
// the originating mutation: emission happens after commit.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// NoopSink drops every event. Engines fall back to it when constructed
// without a sink.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) {}
