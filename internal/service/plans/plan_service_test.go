package plans

import (
	"context"
	"testing"
	"time"

	"copydrive-service/internal/domain/subscription"
	"copydrive-service/internal/domain/workspace"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error { return fn(nil) }

type fakePlans struct {
	plans map[uuid.UUID]*subscription.SubscriptionPlan
}

func (f *fakePlans) FindByID(ctx context.Context, id uuid.UUID) (*subscription.SubscriptionPlan, error) {
	if p, ok := f.plans[id]; ok {
		return p, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakePlans) ListActive(ctx context.Context) ([]subscription.SubscriptionPlan, error) {
	out := []subscription.SubscriptionPlan{}
	for _, p := range f.plans {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeSubs struct {
	active    *subscription.WorkspaceSubscription
	cancelled []uuid.UUID
	created   []*subscription.WorkspaceSubscription
}

func (f *fakeSubs) FindActiveByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error) {
	return f.FindActiveByWorkspaceWithTx(ctx, nil, workspaceID)
}

func (f *fakeSubs) FindActiveByWorkspaceWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error) {
	if f.active == nil || f.active.WorkspaceID != workspaceID {
		return nil, xerrors.ErrNotFound
	}
	return f.active, nil
}

func (f *fakeSubs) CancelWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeSubs) CreateWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.WorkspaceSubscription) error {
	sub.ID = uuid.New()
	f.created = append(f.created, sub)
	return nil
}

type fakeWorkspaces struct {
	members map[uuid.UUID]workspace.Role
	usage   workspace.Usage
}

func (f *fakeWorkspaces) FindMember(ctx context.Context, workspaceID, userID uuid.UUID) (*workspace.Member, error) {
	role, ok := f.members[userID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &workspace.Member{WorkspaceID: workspaceID, UserID: userID, Role: role}, nil
}

func (f *fakeWorkspaces) LockWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) error {
	return nil
}

func (f *fakeWorkspaces) GetUsageWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*workspace.Usage, error) {
	u := f.usage
	return &u, nil
}

type fakeNotifier struct{ calls int }

func (f *fakeNotifier) SubscriptionChanged(ctx context.Context, workspaceID uuid.UUID, subscriptionID, planID *uuid.UUID, status subscription.Status) {
	f.calls++
}

type planFixture struct {
	svc         *PlanService
	plans       *fakePlans
	subs        *fakeSubs
	workspaces  *fakeWorkspaces
	notifier    *fakeNotifier
	workspaceID uuid.UUID
	owner       uuid.UUID
	basic       *subscription.SubscriptionPlan
	pro         *subscription.SubscriptionPlan
	starter     *subscription.SubscriptionPlan
}

func intPtr(v int) *int { return &v }

func newPlanFixture(t *testing.T) *planFixture {
	t.Helper()

	basic := &subscription.SubscriptionPlan{
		ID: uuid.New(), Name: "Basic", IsActive: true,
		MonthlyPrice: decimal.RequireFromString("49.00"), AnnualPrice: decimal.RequireFromString("490.00"),
		MaxProjects: intPtr(5), MaxCopies: intPtr(100),
	}
	pro := &subscription.SubscriptionPlan{
		ID: uuid.New(), Name: "Pro", IsActive: true,
		MonthlyPrice: decimal.RequireFromString("97.00"), AnnualPrice: decimal.RequireFromString("970.00"),
	}
	starter := &subscription.SubscriptionPlan{
		ID: uuid.New(), Name: "Starter", IsActive: true,
		MonthlyPrice: decimal.RequireFromString("19.00"), AnnualPrice: decimal.RequireFromString("190.00"),
		MaxProjects: intPtr(2), MaxCopies: intPtr(20),
	}

	workspaceID, owner := uuid.New(), uuid.New()
	f := &planFixture{
		plans: &fakePlans{plans: map[uuid.UUID]*subscription.SubscriptionPlan{
			basic.ID: basic, pro.ID: pro, starter.ID: starter,
		}},
		subs: &fakeSubs{active: &subscription.WorkspaceSubscription{
			ID: uuid.New(), WorkspaceID: workspaceID, PlanID: basic.ID,
			BillingCycle: subscription.BillingMonthly, Status: subscription.StatusActive,
		}},
		workspaces: &fakeWorkspaces{
			members: map[uuid.UUID]workspace.Role{owner: workspace.RoleOwner},
			usage:   workspace.Usage{Projects: 1, Copies: 10},
		},
		notifier:    &fakeNotifier{},
		workspaceID: workspaceID,
		owner:       owner,
		basic:       basic,
		pro:         pro,
		starter:     starter,
	}
	f.svc = NewPlanService(f.plans, f.subs, f.workspaces, f.notifier, fakeTx{}, zap.NewNop())
	return f
}

func (f *planFixture) input(planID uuid.UUID, cycle subscription.BillingCycle) ChangePlanInput {
	return ChangePlanInput{
		CallerID:     f.owner,
		WorkspaceID:  f.workspaceID,
		NewPlanID:    planID,
		BillingCycle: cycle,
	}
}

func TestChangePlan_DowngradeApplies(t *testing.T) {
	f := newPlanFixture(t)
	gateway, external := "ticto", "sub-1"
	f.subs.active.PaymentGateway = &gateway
	f.subs.active.ExternalSubscriptionID = &external

	res, err := f.svc.ChangePlan(context.Background(), f.input(f.starter.ID, subscription.BillingMonthly))
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, []uuid.UUID{f.subs.active.ID}, f.subs.cancelled)
	require.Len(t, f.subs.created, 1)
	next := f.subs.created[0]
	assert.Equal(t, f.starter.ID, next.PlanID)
	assert.Equal(t, 2, *next.CurrentMaxProjects)
	assert.Equal(t, "ticto", *next.PaymentGateway)
	assert.Equal(t, "sub-1", *next.ExternalSubscriptionID)
	assert.Equal(t, 1, f.notifier.calls)
}

func TestChangePlan_UpgradeRequiresPayment(t *testing.T) {
	f := newPlanFixture(t)

	res, err := f.svc.ChangePlan(context.Background(), f.input(f.pro.ID, subscription.BillingMonthly))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.RequiresPayment)
	require.NotNil(t, res.AmountToPay)
	assert.True(t, res.AmountToPay.Equal(decimal.RequireFromString("48.00")))
	assert.Empty(t, f.subs.cancelled)
	assert.Empty(t, f.subs.created)
	assert.Zero(t, f.notifier.calls)
}

func TestChangePlan_LimitExceededReportsCounts(t *testing.T) {
	f := newPlanFixture(t)
	f.workspaces.usage = workspace.Usage{Projects: 3, Copies: 10}

	res, err := f.svc.ChangePlan(context.Background(), f.input(f.starter.ID, subscription.BillingMonthly))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeProjectsLimitExceeded, res.Error)
	assert.Equal(t, 3, *res.CurrentCount)
	assert.Equal(t, 2, *res.NewLimit)
	assert.Empty(t, f.subs.created)
}

func TestChangePlan_CopiesLimitExceeded(t *testing.T) {
	f := newPlanFixture(t)
	f.workspaces.usage = workspace.Usage{Projects: 1, Copies: 21}

	res, err := f.svc.ChangePlan(context.Background(), f.input(f.starter.ID, subscription.BillingMonthly))
	require.NoError(t, err)
	assert.Equal(t, xerrors.CodeCopiesLimitExceeded, res.Error)
	assert.Equal(t, 21, *res.CurrentCount)
	assert.Equal(t, 20, *res.NewLimit)
}

func TestChangePlan_UnlimitedPlanSkipsLimits(t *testing.T) {
	f := newPlanFixture(t)
	f.workspaces.usage = workspace.Usage{Projects: 500, Copies: 5000}
	// Same price as the current plan so only the limit check matters.
	f.pro.MonthlyPrice = f.basic.MonthlyPrice

	res, err := f.svc.ChangePlan(context.Background(), f.input(f.pro.ID, subscription.BillingMonthly))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestChangePlan_SamePlanIsNoop(t *testing.T) {
	f := newPlanFixture(t)

	res, err := f.svc.ChangePlan(context.Background(), f.input(f.basic.ID, ""))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, f.subs.active.ID, res.Subscription.ID)
	assert.Empty(t, f.subs.created)
}

func TestChangePlan_ValidationOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *planFixture, in *ChangePlanInput)
		want  xerrors.Code
	}{
		{
			name:  "invalid cycle",
			setup: func(f *planFixture, in *ChangePlanInput) { in.BillingCycle = "weekly" },
			want:  xerrors.CodeInvalidBillingCycle,
		},
		{
			name: "non member beats missing subscription",
			setup: func(f *planFixture, in *ChangePlanInput) {
				in.CallerID = uuid.New()
				f.subs.active = nil
			},
			want: xerrors.CodeUnauthorized,
		},
		{
			name: "editor cannot manage billing",
			setup: func(f *planFixture, in *ChangePlanInput) {
				editor := uuid.New()
				f.workspaces.members[editor] = workspace.RoleEditor
				in.CallerID = editor
			},
			want: xerrors.CodeUnauthorized,
		},
		{
			name: "missing subscription beats missing plan",
			setup: func(f *planFixture, in *ChangePlanInput) {
				f.subs.active = nil
				in.NewPlanID = uuid.New()
			},
			want: xerrors.CodeNoActiveSubscription,
		},
		{
			name:  "unknown plan",
			setup: func(f *planFixture, in *ChangePlanInput) { in.NewPlanID = uuid.New() },
			want:  xerrors.CodePlanNotFound,
		},
		{
			name: "inactive plan beats limits",
			setup: func(f *planFixture, in *ChangePlanInput) {
				f.starter.IsActive = false
				f.workspaces.usage = workspace.Usage{Projects: 99}
			},
			want: xerrors.CodePlanNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPlanFixture(t)
			in := f.input(f.starter.ID, subscription.BillingMonthly)
			tt.setup(f, &in)

			res, err := f.svc.ChangePlan(context.Background(), in)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error)
			assert.Empty(t, f.subs.created)
		})
	}
}

func TestChangePlan_PlatformAdminBypassesMembership(t *testing.T) {
	f := newPlanFixture(t)
	in := f.input(f.starter.ID, subscription.BillingMonthly)
	in.CallerID = uuid.New()
	in.CallerIsPlatformAdmin = true

	res, err := f.svc.ChangePlan(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestListActivePlans(t *testing.T) {
	f := newPlanFixture(t)
	f.pro.IsActive = false

	plans, err := f.svc.ListActivePlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}
