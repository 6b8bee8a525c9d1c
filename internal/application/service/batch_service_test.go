package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

var (
	forgeMachineInspect = []workflow.OperationType{
		workflow.OperationForging,
		workflow.OperationMachining,
		workflow.OperationQualityInspection,
	}
	forgeHeatMachine = []workflow.OperationType{
		workflow.OperationForging,
		workflow.OperationHeatTreatment,
		workflow.OperationMachining,
	}
)

func TestBatchService_CreateFirstOperationBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")

	res := env.forge(t, ctx, wf.ID, lot.ID, 100, "300")

	assert.Equal(t, entity.BatchKindInHouse, res.Batch.Kind)
	assert.NotEmpty(t, res.Batch.BatchNumber)
	assert.Equal(t, int64(100), res.Outcome.InitialPiecesCount)
	assert.Equal(t, int64(100), res.Outcome.PiecesAvailableForNext)
	assert.Nil(t, res.Outcome.PreviousOperationBatchID)
	require.Len(t, res.Materials, 1)
	assert.True(t, res.Materials[0].Quantity.Equal(decimal.NewFromInt(300)))

	got, err := env.inventory.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableQuantity.Equal(decimal.NewFromInt(700)), "got %s", got.AvailableQuantity)

	events, err := env.batches.ListEvents(ctx, wf.ID)
	require.NoError(t, err)
	types := make([]event.Type, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, event.TypeBatchCreated)
	assert.Contains(t, types, event.TypeLedgerCredited)
}

func TestBatchService_CreateFirstOperationBatch_Rejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")

	byWeight := func(kg string) []ConsumptionLine {
		return []ConsumptionLine{{
			SourceType: entity.SourceTypeLot,
			LotID:      lot.ID,
			Amount:     entity.MaterialAmount{Quantity: decimal.RequireFromString(kg)},
		}}
	}

	tests := []struct {
		name    string
		req     FirstBatchRequest
		wantErr error
	}{
		{
			name: "unit mismatch",
			req: FirstBatchRequest{
				WorkflowID:    wf.ID,
				OperationType: workflow.OperationForging,
				Pieces:        10,
				Materials: []ConsumptionLine{{
					SourceType: entity.SourceTypeLot,
					LotID:      lot.ID,
					Amount:     entity.MaterialAmount{Pieces: 10},
				}},
			},
			wantErr: ledger.ErrValidation,
		},
		{
			name: "not enough weight for the pieces",
			req: FirstBatchRequest{
				WorkflowID:    wf.ID,
				OperationType: workflow.OperationForging,
				Pieces:        100,
				Materials:     byWeight("200"),
			},
			wantErr: ledger.ErrValidation,
		},
		{
			name: "not the first step",
			req: FirstBatchRequest{
				WorkflowID:    wf.ID,
				OperationType: workflow.OperationMachining,
				Pieces:        10,
				Materials:     byWeight("30"),
			},
			wantErr: ledger.ErrValidation,
		},
		{
			name: "operation outside the template",
			req: FirstBatchRequest{
				WorkflowID:    wf.ID,
				OperationType: workflow.OperationDispatch,
				Pieces:        10,
				Materials:     byWeight("30"),
			},
			wantErr: ledger.ErrValidation,
		},
		{
			name: "lot cannot cover",
			req: FirstBatchRequest{
				WorkflowID:    wf.ID,
				OperationType: workflow.OperationForging,
				Pieces:        100,
				Materials:     byWeight("1000.5"),
			},
			wantErr: ledger.ErrInsufficientMaterial,
		},
		{
			name: "no materials",
			req: FirstBatchRequest{
				WorkflowID:    wf.ID,
				OperationType: workflow.OperationForging,
				Pieces:        10,
			},
			wantErr: ledger.ErrValidation,
		},
		{
			name: "unknown workflow",
			req: FirstBatchRequest{
				WorkflowID:    999,
				OperationType: workflow.OperationForging,
				Pieces:        10,
				Materials:     byWeight("30"),
			},
			wantErr: ledger.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.batches.CreateFirstOperationBatch(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	got, err := env.inventory.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableQuantity.Equal(decimal.NewFromInt(1000)), "rejected calls must not touch the lot")

	batches, err := env.batchRepo.ListByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestBatchService_Conservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 100, "300")
	a := env.next(t, ctx, wf.ID, workflow.OperationMachining, forged.Batch.ID, 40, "")
	b := env.next(t, ctx, wf.ID, workflow.OperationMachining, forged.Batch.ID, 30, "")

	parent := env.entry(t, ctx, forged.Batch.ID)
	assert.Equal(t, int64(100), parent.InitialPiecesCount)
	assert.Equal(t, int64(30), parent.PiecesAvailableForNext)

	snapshot, err := env.batches.GetLedgerSnapshot(ctx, wf.ID, workflow.OperationMachining)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Position)
	var consumed int64
	for _, e := range snapshot.Entries {
		require.NotNil(t, e.PreviousOperationBatchID)
		assert.Equal(t, forged.Batch.ID, *e.PreviousOperationBatchID)
		consumed += e.InitialPiecesCount
	}
	assert.Equal(t, parent.InitialPiecesCount-parent.PiecesAvailableForNext, consumed)

	assert.Equal(t, int64(40), a.Outcome.PiecesAvailableForNext)
	assert.Equal(t, int64(30), b.Consumption.Pieces)
}

func TestBatchService_InsufficientPiecesIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 100, "300")
	env.next(t, ctx, wf.ID, workflow.OperationMachining, forged.Batch.ID, 70, "")

	_, err := env.batches.CreateSuccessorOperationBatch(ctx, SuccessorBatchRequest{
		WorkflowID:      wf.ID,
		OperationType:   workflow.OperationMachining,
		ParentBatchID:   forged.Batch.ID,
		PiecesRequested: 31,
	})
	require.Error(t, err)

	var insufficient *ledger.InsufficientPiecesError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, int64(30), insufficient.Available)
	assert.Equal(t, int64(31), insufficient.Requested)

	assert.Equal(t, int64(30), env.entry(t, ctx, forged.Batch.ID).PiecesAvailableForNext)
	batches, err := env.batchRepo.ListByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, batches, 2, "the failed successor batch must be rolled back")
}

func TestBatchService_SuccessorRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")
	forged := env.forge(t, ctx, wf.ID, lot.ID, 100, "300")

	tests := []struct {
		name    string
		req     SuccessorBatchRequest
		wantErr error
	}{
		{
			name:    "missing parent",
			req:     SuccessorBatchRequest{WorkflowID: wf.ID, OperationType: workflow.OperationMachining, ParentBatchID: 999, PiecesRequested: 10},
			wantErr: ledger.ErrNotFound,
		},
		{
			name:    "parent is not the previous step",
			req:     SuccessorBatchRequest{WorkflowID: wf.ID, OperationType: workflow.OperationQualityInspection, ParentBatchID: forged.Batch.ID, PiecesRequested: 10},
			wantErr: ledger.ErrValidation,
		},
		{
			name:    "first step has no parent",
			req:     SuccessorBatchRequest{WorkflowID: wf.ID, OperationType: workflow.OperationForging, ParentBatchID: forged.Batch.ID, PiecesRequested: 10},
			wantErr: ledger.ErrValidation,
		},
		{
			name:    "zero pieces",
			req:     SuccessorBatchRequest{WorkflowID: wf.ID, OperationType: workflow.OperationMachining, ParentBatchID: forged.Batch.ID},
			wantErr: ledger.ErrValidation,
		},
		{
			name:    "vendor ref on in-house step",
			req:     SuccessorBatchRequest{WorkflowID: wf.ID, OperationType: workflow.OperationMachining, ParentBatchID: forged.Batch.ID, PiecesRequested: 10, VendorRef: "V-1"},
			wantErr: ledger.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.batches.CreateSuccessorOperationBatch(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	assert.Equal(t, int64(100), env.entry(t, ctx, forged.Batch.ID).PiecesAvailableForNext)
}

func TestBatchService_ExactReversal(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 100, "300")
	before := env.entry(t, ctx, forged.Batch.ID)

	child := env.next(t, ctx, wf.ID, workflow.OperationMachining, forged.Batch.ID, 45, "")
	require.NoError(t, env.batches.DeleteOperationBatch(ctx, child.Batch.ID))

	after := env.entry(t, ctx, forged.Batch.ID)
	assert.Equal(t, before.InitialPiecesCount, after.InitialPiecesCount)
	assert.Equal(t, before.PiecesAvailableForNext, after.PiecesAvailableForNext)

	deleted := env.entry(t, ctx, child.Batch.ID)
	assert.True(t, deleted.Deleted)
	assert.NotNil(t, deleted.DeletedAt)
	assert.Zero(t, deleted.InitialPiecesCount)

	batch, err := env.batches.GetBatch(ctx, child.Batch.ID)
	require.NoError(t, err)
	assert.True(t, batch.IsDeleted())

	err = env.batches.DeleteOperationBatch(ctx, child.Batch.ID)
	assert.True(t, errors.Is(err, ledger.ErrNotFound), "got %v", err)
}

func TestBatchService_DeleteBlockedByDependents(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 100, "300")
	child := env.next(t, ctx, wf.ID, workflow.OperationMachining, forged.Batch.ID, 40, "")

	err := env.batches.DeleteOperationBatch(ctx, forged.Batch.ID)
	require.Error(t, err)

	var blocked *ledger.HasDependentsError
	require.True(t, errors.As(err, &blocked), "got %v", err)
	assert.Equal(t, []int64{child.Batch.ID}, blocked.DependentBatchIDs)

	parent := env.entry(t, ctx, forged.Batch.ID)
	assert.False(t, parent.Deleted)
	assert.Equal(t, int64(100), parent.InitialPiecesCount)
	assert.Equal(t, int64(60), parent.PiecesAvailableForNext)

	require.NoError(t, env.batches.DeleteOperationBatch(ctx, child.Batch.ID))
	require.NoError(t, env.batches.DeleteOperationBatch(ctx, forged.Batch.ID))
}

func TestBatchService_DeleteFirstBatchRestoresMaterial(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeMachineInspect...)
	lot := env.newLot(t, ctx, "H-1001", "1000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 100, "300")
	require.NoError(t, env.batches.DeleteOperationBatch(ctx, forged.Batch.ID))

	got, err := env.inventory.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableQuantity.Equal(decimal.NewFromInt(1000)), "got %s", got.AvailableQuantity)

	lines, err := env.materialRepo.ListLiveConsumptionsByBatch(ctx, forged.Batch.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.True(t, env.entry(t, ctx, forged.Batch.ID).Deleted)
}

func TestBatchService_VendorAccountConsumption(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, workflow.OperationShotBlasting, workflow.OperationMachining)

	lot, err := env.inventory.RegisterLot(ctx, RegisterLotRequest{HeatNumber: "H-2001", Material: "forged blanks", Pieces: 500})
	require.NoError(t, err)
	account, err := env.inventory.Transfer(ctx, TransferRequest{LotID: lot.ID, VendorRef: "V-BLAST", Amount: entity.MaterialAmount{Pieces: 200}})
	require.NoError(t, err)

	res, err := env.batches.CreateFirstOperationBatch(ctx, FirstBatchRequest{
		WorkflowID:    wf.ID,
		OperationType: workflow.OperationShotBlasting,
		VendorRef:     "V-BLAST",
		Pieces:        150,
		Materials: []ConsumptionLine{{
			SourceType:      entity.SourceTypeVendorAccount,
			VendorAccountID: account.ID,
			Amount:          entity.MaterialAmount{Pieces: 150},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.BatchKindVendorDispatch, res.Batch.Kind)
	assert.Zero(t, res.Outcome.InitialPiecesCount, "vendor pieces are credited on receipt")

	require.NoError(t, env.batches.DeleteOperationBatch(ctx, res.Batch.ID))

	restored, err := env.inventory.GetVendorAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), restored.AvailablePieces, "material goes back to the vendor account it came from")

	got, err := env.inventory.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.AvailablePieces, "transfers are not undone")
}

func TestBatchService_IncrementalDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeHeatMachine...)
	lot := env.newLot(t, ctx, "H-1001", "2000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 500, "1250")
	dispatch := env.next(t, ctx, wf.ID, workflow.OperationHeatTreatment, forged.Batch.ID, 500, "V-HEAT")
	assert.Equal(t, int64(0), dispatch.Outcome.PiecesAvailableForNext)

	first, err := env.batches.CreditPartialDelivery(ctx, DeliveryRequest{BatchID: dispatch.Batch.ID, PiecesEligibleForNext: 300})
	require.NoError(t, err)
	assert.Equal(t, int64(300), first.Outcome.InitialPiecesCount)
	assert.Equal(t, int64(300), first.Batch.ReceivedPieces)
	assert.False(t, first.Batch.FullyReceived)

	second, err := env.batches.CreditPartialDelivery(ctx, DeliveryRequest{BatchID: dispatch.Batch.ID, PiecesEligibleForNext: 200})
	require.NoError(t, err)
	assert.Equal(t, int64(500), second.Outcome.InitialPiecesCount)
	assert.Equal(t, int64(500), second.Outcome.PiecesAvailableForNext)
	assert.True(t, second.Batch.FullyReceived)

	_, err = env.batches.CreditPartialDelivery(ctx, DeliveryRequest{BatchID: dispatch.Batch.ID, PiecesEligibleForNext: 1})
	assert.True(t, errors.Is(err, ledger.ErrValidation), "got %v", err)

	_, err = env.batches.CreditPartialDelivery(ctx, DeliveryRequest{BatchID: forged.Batch.ID, PiecesEligibleForNext: 1})
	assert.True(t, errors.Is(err, ledger.ErrValidation), "in-house batches take no deliveries, got %v", err)

	machined := env.next(t, ctx, wf.ID, workflow.OperationMachining, dispatch.Batch.ID, 450, "")
	assert.Equal(t, int64(450), machined.Outcome.InitialPiecesCount)
	assert.Equal(t, int64(50), env.entry(t, ctx, dispatch.Batch.ID).PiecesAvailableForNext)
}

func TestBatchService_DeleteDeliveryReceipt(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeHeatMachine...)
	lot := env.newLot(t, ctx, "H-1001", "2000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 500, "1250")
	dispatch := env.next(t, ctx, wf.ID, workflow.OperationHeatTreatment, forged.Batch.ID, 500, "V-HEAT")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	older, err := env.batches.CreditPartialDelivery(ctx, DeliveryRequest{BatchID: dispatch.Batch.ID, PiecesEligibleForNext: 300, ReceivedAt: base})
	require.NoError(t, err)
	newer, err := env.batches.CreditPartialDelivery(ctx, DeliveryRequest{BatchID: dispatch.Batch.ID, PiecesEligibleForNext: 200, ReceivedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	err = env.batches.DeleteOperationBatch(ctx, dispatch.Batch.ID)
	var blocked *ledger.HasDependentsError
	require.True(t, errors.As(err, &blocked), "got %v", err)
	assert.ElementsMatch(t, []int64{older.Receipt.ID, newer.Receipt.ID}, blocked.ReceiptIDs)

	err = env.batches.DeleteDeliveryReceipt(ctx, older.Receipt.ID)
	var outOfOrder *ledger.OutOfOrderDeletionError
	require.True(t, errors.As(err, &outOfOrder), "got %v", err)
	assert.Equal(t, newer.Receipt.ID, outOfOrder.NewerReceiptID)

	require.NoError(t, env.batches.DeleteDeliveryReceipt(ctx, newer.Receipt.ID))
	entry := env.entry(t, ctx, dispatch.Batch.ID)
	assert.Equal(t, int64(300), entry.InitialPiecesCount)
	assert.Equal(t, int64(300), entry.PiecesAvailableForNext)

	batch, err := env.batches.GetBatch(ctx, dispatch.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), batch.ReceivedPieces)
	assert.False(t, batch.FullyReceived)

	require.NoError(t, env.batches.DeleteDeliveryReceipt(ctx, older.Receipt.ID))
	entry = env.entry(t, ctx, dispatch.Batch.ID)
	assert.Zero(t, entry.InitialPiecesCount)
	assert.False(t, entry.Deleted, "the dispatch itself still exists")

	require.NoError(t, env.batches.DeleteOperationBatch(ctx, dispatch.Batch.ID))
	assert.Equal(t, int64(500), env.entry(t, ctx, forged.Batch.ID).PiecesAvailableForNext)
}

func TestBatchService_DeleteReceiptConsumedDownstream(t *testing.T) {
	env := newTestEnv(t)
	ctx := tenantCtx("acme")
	wf := env.newWorkflow(t, ctx, forgeHeatMachine...)
	lot := env.newLot(t, ctx, "H-1001", "2000")

	forged := env.forge(t, ctx, wf.ID, lot.ID, 500, "1250")
	dispatch := env.next(t, ctx, wf.ID, workflow.OperationHeatTreatment, forged.Batch.ID, 500, "V-HEAT")
	receipt, err := env.batches.CreditPartialDelivery(ctx, DeliveryRequest{BatchID: dispatch.Batch.ID, PiecesEligibleForNext: 300})
	require.NoError(t, err)
	env.next(t, ctx, wf.ID, workflow.OperationMachining, dispatch.Batch.ID, 250, "")

	err = env.batches.DeleteDeliveryReceipt(ctx, receipt.Receipt.ID)
	assert.True(t, errors.Is(err, ledger.ErrConsistencyViolation), "got %v", err)

	entry := env.entry(t, ctx, dispatch.Batch.ID)
	assert.Equal(t, int64(300), entry.InitialPiecesCount)
	assert.Equal(t, int64(50), entry.PiecesAvailableForNext)
}

func TestBatchService_TenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	acme := tenantCtx("acme")
	globex := tenantCtx("globex")

	wf := env.newWorkflow(t, acme, forgeMachineInspect...)
	lot := env.newLot(t, acme, "H-1001", "1000")
	forged := env.forge(t, acme, wf.ID, lot.ID, 100, "300")

	_, err := env.batches.GetBatch(globex, forged.Batch.ID)
	assert.True(t, errors.Is(err, ledger.ErrNotFound), "got %v", err)

	_, err = env.batches.CreateSuccessorOperationBatch(globex, SuccessorBatchRequest{
		WorkflowID:      wf.ID,
		OperationType:   workflow.OperationMachining,
		ParentBatchID:   forged.Batch.ID,
		PiecesRequested: 10,
	})
	assert.True(t, errors.Is(err, ledger.ErrNotFound), "got %v", err)

	_, err = env.batches.GetBatch(tenantCtx(""), forged.Batch.ID)
	assert.True(t, errors.Is(err, ledger.ErrValidation), "got %v", err)

	assert.Equal(t, int64(100), env.entry(t, acme, forged.Batch.ID).PiecesAvailableForNext)
}
