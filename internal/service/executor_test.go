package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dcaladder/internal/market"
	"dcaladder/internal/models"
)

// fakeGateway scripts per-call outcomes: each call pops the next response.
type fakeGateway struct {
	responses []gatewayOutcome
	requests  []market.PlaceOrderRequest
}

type gatewayOutcome struct {
	resp *market.PlaceOrderResponse
	err  error
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req market.PlaceOrderRequest) (*market.PlaceOrderResponse, error) {
	g.requests = append(g.requests, req)
	if len(g.responses) == 0 {
		return &market.PlaceOrderResponse{Success: true, OrderID: "auto"}, nil
	}
	out := g.responses[0]
	g.responses = g.responses[1:]
	return out.resp, out.err
}

func okOrder(id string) gatewayOutcome {
	return gatewayOutcome{resp: &market.PlaceOrderResponse{Success: true, OrderID: id}}
}

func newExecutor(repo *stubRepo, gw *fakeGateway, ceiling decimal.Decimal) *ExecutorService {
	return &ExecutorService{
		Repo:      repo,
		Gateway:   gw,
		Lifecycle: &LifecycleService{Repo: repo},
		Config:    ExecutorConfig{MaxStepAmount: ceiling},
	}
}

func TestExecuteAllPendingInOrder(t *testing.T) {
	repo := newStubRepo()
	gw := &fakeGateway{responses: []gatewayOutcome{okOrder("o1"), okOrder("o2"), okOrder("o3")}}
	exec := newExecutor(repo, gw, decimal.Zero)
	plan := seedPlan(t, repo, 3)

	report, err := exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	require.False(t, report.Aborted)
	require.Equal(t, 3, report.Succeeded)
	require.Equal(t, plan.ID, report.PlanID)

	for i, req := range gw.requests {
		require.Equal(t, "BTCUSDT", req.Symbol)
		require.Equal(t, market.SideBuy, req.Side)
		require.Equal(t, "limit", req.Type)
		require.NotEmpty(t, req.ClientOrderID)
		require.Contains(t, req.Reason, "DCA plan")
		require.True(t, req.Price.Equal(plan.Steps[i].TargetPrice), "orders must go out in step order")
	}

	got, err := repo.GetPlanByID(context.Background(), plan.ID, "")
	require.NoError(t, err)
	for i, step := range got.Steps {
		require.Equal(t, models.StepOrdered, step.Status)
		require.NotEmpty(t, step.BrokerOrderID, "step %d", i+1)
	}
}

func TestExecuteSubsetLeavesOthersPending(t *testing.T) {
	repo := newStubRepo()
	gw := &fakeGateway{responses: []gatewayOutcome{okOrder("only")}}
	exec := newExecutor(repo, gw, decimal.Zero)
	plan := seedPlan(t, repo, 3)

	report, err := exec.Execute(context.Background(), plan, []int{2})
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	require.Len(t, gw.requests, 1)

	got, err := repo.GetPlanByID(context.Background(), plan.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.StepPending, got.Steps[0].Status)
	require.Equal(t, models.StepOrdered, got.Steps[1].Status)
	require.Equal(t, "only", got.Steps[1].BrokerOrderID)
	require.Equal(t, models.StepPending, got.Steps[2].Status)
}

func TestExecuteUnknownSubsetStep(t *testing.T) {
	repo := newStubRepo()
	exec := newExecutor(repo, &fakeGateway{}, decimal.Zero)
	plan := seedPlan(t, repo, 3)

	_, err := exec.Execute(context.Background(), plan, []int{5})
	require.Error(t, err)
}

func TestExecuteFailFastOnGatewayError(t *testing.T) {
	repo := newStubRepo()
	gw := &fakeGateway{responses: []gatewayOutcome{
		okOrder("o1"),
		{err: errors.New("insufficient balance")},
	}}
	exec := newExecutor(repo, gw, decimal.Zero)
	plan := seedPlan(t, repo, 3)

	report, err := exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	require.True(t, report.Aborted)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 2, report.Attempted)
	require.Len(t, gw.requests, 2, "third step must never be attempted")
	require.Contains(t, report.AbortReason, "insufficient balance")

	got, err := repo.GetPlanByID(context.Background(), plan.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.StepOrdered, got.Steps[0].Status, "placed orders are not rolled back")
	require.Equal(t, models.StepPending, got.Steps[1].Status)
	require.Equal(t, models.StepPending, got.Steps[2].Status)
}

func TestExecuteAbortsOnCapitalCeiling(t *testing.T) {
	repo := newStubRepo()
	gw := &fakeGateway{}
	exec := newExecutor(repo, gw, decimal.NewFromInt(50000))
	plan := seedPlan(t, repo, 2)

	report, err := exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	require.True(t, report.Aborted)
	require.Empty(t, gw.requests, "ceiling check happens before the gateway call")
	require.Contains(t, report.AbortReason, "ceiling")
	require.Equal(t, 1, report.Steps[0].StepNumber)
}

func TestExecuteMissingOrderIDIsFatal(t *testing.T) {
	repo := newStubRepo()
	raw, _ := json.Marshal(map[string]any{"status": "accepted"})
	gw := &fakeGateway{responses: []gatewayOutcome{
		{resp: &market.PlaceOrderResponse{Success: true, Raw: raw}},
	}}
	exec := newExecutor(repo, gw, decimal.Zero)
	plan := seedPlan(t, repo, 2)

	report, err := exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	require.True(t, report.Aborted)
	require.Contains(t, report.AbortReason, "order id")
	require.Len(t, gw.requests, 1)
}

func TestExecutePersistenceFailureIsFatal(t *testing.T) {
	repo := newStubRepo()
	gw := &fakeGateway{responses: []gatewayOutcome{okOrder("o1")}}
	exec := newExecutor(repo, gw, decimal.Zero)
	plan := seedPlan(t, repo, 2)
	repo.failUpdateStep = true

	report, err := exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	require.True(t, report.Aborted)
	require.Contains(t, report.AbortReason, "record order id")
	require.Len(t, gw.requests, 1)
}

func TestExecuteRejectsNonPendingSubset(t *testing.T) {
	repo := newStubRepo()
	gw := &fakeGateway{responses: []gatewayOutcome{okOrder("o1")}}
	exec := newExecutor(repo, gw, decimal.Zero)
	plan := seedPlan(t, repo, 2)

	_, err := exec.Execute(context.Background(), plan, []int{1})
	require.NoError(t, err)

	// Reload so step 1 shows ordered, then ask for it again.
	got, err := repo.GetPlanByID(context.Background(), plan.ID, "")
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), got, []int{1})
	require.Error(t, err)
}

func TestExtractOrderIDShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"snake", `{"order_id":"abc"}`, "abc"},
		{"camel", `{"orderId":123456}`, "123456"},
		{"nested data", `{"data":{"orderID":"xyz"}}`, "xyz"},
		{"korean odno", `{"output":{"ODNO":"0000117057"}}`, "0000117057"},
		{"plain id", `{"id":"77"}`, "77"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &market.PlaceOrderResponse{Success: true, Raw: json.RawMessage(tc.raw)}
			got, ok := resp.ExtractOrderID()
			require.True(t, ok)
			require.Equal(t, tc.want, got)
		})
	}

	resp := &market.PlaceOrderResponse{Success: true, Raw: json.RawMessage(`{"status":"ok"}`)}
	_, ok := resp.ExtractOrderID()
	require.False(t, ok)
}
