package msm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hustlexp/moneycore/internal/domain"
)

type fakeDisputes struct {
	nonTerminal     bool
	nonTerminalErr  error
	actionable      *domain.Dispute
	actionableErr   error
}

func (f *fakeDisputes) HasNonTerminalDispute(ctx context.Context, taskID string) (bool, error) {
	return f.nonTerminal, f.nonTerminalErr
}

func (f *fakeDisputes) FindActionableDispute(ctx context.Context, taskID string) (*domain.Dispute, error) {
	return f.actionable, f.actionableErr
}

type fakeTasks struct {
	assigned bool
	err      error
}

func (f *fakeTasks) HasAssignedWorker(ctx context.Context, taskID string) (bool, error) {
	return f.assigned, f.err
}

func TestRunGuardsRejectsTerminalState(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StateCompleted}

	err := RunGuards(context.Background(), lock, domain.EventRefundEscrow, EventContext{}, &fakeDisputes{}, &fakeTasks{})

	assert.Error(t, err)
}

func TestRunGuardsReleasePayoutBlockedByOpenDispute(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StateHeld}

	err := RunGuards(context.Background(), lock, domain.EventReleasePayout, EventContext{},
		&fakeDisputes{nonTerminal: true}, &fakeTasks{assigned: true})

	assert.Error(t, err)
}

func TestRunGuardsReleasePayoutRequiresAssignedWorker(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StateHeld}

	err := RunGuards(context.Background(), lock, domain.EventReleasePayout, EventContext{},
		&fakeDisputes{nonTerminal: false}, &fakeTasks{assigned: false})

	assert.Error(t, err)
}

func TestRunGuardsReleasePayoutPassesWhenClear(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StateHeld}

	err := RunGuards(context.Background(), lock, domain.EventReleasePayout, EventContext{},
		&fakeDisputes{nonTerminal: false}, &fakeTasks{assigned: true})

	assert.NoError(t, err)
}

func TestRunGuardsResolveRefundRequiresActionableDispute(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StatePendingDispute}

	err := RunGuards(context.Background(), lock, domain.EventResolveRefund,
		EventContext{AdminID: "admin1", ActorID: "poster1"},
		&fakeDisputes{actionable: nil}, &fakeTasks{})

	assert.Error(t, err)
}

func TestRunGuardsAdminEventRequiresAdminID(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StatePendingDispute}

	err := RunGuards(context.Background(), lock, domain.EventResolveRefund,
		EventContext{ActorID: "poster1"},
		&fakeDisputes{actionable: &domain.Dispute{}}, &fakeTasks{})

	assert.Error(t, err)
}

func TestRunGuardsAdminCannotBeActor(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StatePendingDispute}

	err := RunGuards(context.Background(), lock, domain.EventResolveRefund,
		EventContext{AdminID: "same", ActorID: "same"},
		&fakeDisputes{actionable: &domain.Dispute{}}, &fakeTasks{})

	assert.Error(t, err)
}

func TestRunGuardsResolveUpholdRequiresAssignedWorker(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StatePendingDispute}

	err := RunGuards(context.Background(), lock, domain.EventResolveUphold,
		EventContext{AdminID: "admin1", ActorID: "poster1"},
		&fakeDisputes{actionable: &domain.Dispute{}}, &fakeTasks{assigned: false})

	assert.Error(t, err)
}

func TestRunGuardsHoldEscrowPassesWithNoGuardsTriggered(t *testing.T) {
	lock := &domain.MoneyStateLock{TaskID: "t1", CurrentState: domain.StateOpen}

	err := RunGuards(context.Background(), lock, domain.EventHoldEscrow, EventContext{},
		&fakeDisputes{}, &fakeTasks{})

	assert.NoError(t, err)
}
