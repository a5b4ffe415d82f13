package grpcapi

import (
	"context"
	"strconv"
	"time"

	"github.com/kelpejol/reel/internal/events"
	"github.com/kelpejol/reel/internal/ledger"
	"github.com/kelpejol/reel/internal/operation"
	"github.com/kelpejol/reel/internal/pipeline"
	"github.com/kelpejol/reel/internal/queue"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Server implements the hand-rolled OperationService described in
// service_desc.go, the gRPC-facing counterpart of restapi.Handler. Both
// transports call straight into the same pipeline.Pipeline and
// ledger.Ledger — neither owns business logic.
type Server struct {
	pipeline       *pipeline.Pipeline
	ledger         *ledger.Ledger
	progress       *queue.ProgressPublisher
	eventPublisher *events.Publisher
	log            zerolog.Logger
}

func NewServer(p *pipeline.Pipeline, led *ledger.Ledger, progress *queue.ProgressPublisher, eventPublisher *events.Publisher, logger zerolog.Logger) *Server {
	return &Server{
		pipeline:       p,
		ledger:         led,
		progress:       progress,
		eventPublisher: eventPublisher,
		log:            logger.With().Str("component", "grpc_operation_service").Logger(),
	}
}

func (s *Server) StartOperation(ctx context.Context, req *StartOperationRequest) (*OperationResponse, error) {
	kind := operation.Kind(req.Kind)
	params, err := operation.FromMap(kind, req.Parameters)
	if err != nil {
		return nil, toGRPCStatus(err)
	}

	tier := pipeline.ParseTier(req.Tier)

	op, err := s.pipeline.Submit(ctx, req.UserID, tier, req.AssetID, params)
	if err != nil {
		return nil, toGRPCStatus(err)
	}
	return toOperationResponse(op), nil
}

func (s *Server) GetOperation(ctx context.Context, req *GetOperationRequest) (*OperationResponse, error) {
	op, err := s.pipeline.Get(ctx, req.UserID, req.OperationID)
	if err != nil {
		return nil, toGRPCStatus(err)
	}
	return toOperationResponse(op), nil
}

func (s *Server) CancelOperation(ctx context.Context, req *CancelOperationRequest) (*CancelOperationResponse, error) {
	if err := s.pipeline.Cancel(ctx, req.OperationID); err != nil {
		return nil, toGRPCStatus(err)
	}
	return &CancelOperationResponse{OperationID: req.OperationID}, nil
}

func (s *Server) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	balance, err := s.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return nil, toGRPCStatus(err)
	}
	return &GetBalanceResponse{UserID: req.UserID, Balance: balance}, nil
}

// SubscribeProgress is a server-streaming RPC: it relays ephemeral
// job.progress updates (queue.ProgressPublisher, Redis pub/sub) to the
// caller until the stream's context is canceled.
func (s *Server) SubscribeProgress(req *SubscribeProgressRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	sub := s.progress.Subscribe(ctx, req.OperationID)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			pct := parsePercent(msg.Payload)
			if err := stream.SendMsg(&ProgressUpdate{OperationID: req.OperationID, Percent: pct}); err != nil {
				return err
			}
		}
	}
}

// SubscribeEvents is spec.md §6's subscribe_events operation: a
// server-streaming RPC relaying durable job lifecycle events (job.queued/
// started/completed/failed, published by the Outbox Relay's events.Publisher
// subscriber) to the caller, filtered by operation ID and event-type
// pattern, until the stream's context is canceled. This is distinct from
// SubscribeProgress, which only relays ephemeral job.progress ticks.
func (s *Server) SubscribeEvents(req *SubscribeEventsRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	pattern := req.Pattern
	if pattern == "" {
		pattern = "*"
	}

	sub := s.eventPublisher.Subscribe(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			operationID, typ, payload, err := events.Decode(msg.Payload)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to decode published event")
				continue
			}
			if req.OperationID != "" && operationID != req.OperationID {
				continue
			}
			if !events.Matches(pattern, string(typ)) {
				continue
			}
			update := &EventUpdate{OperationID: operationID, Type: string(typ), Payload: payload}
			if err := stream.SendMsg(update); err != nil {
				return err
			}
		}
	}
}

func toOperationResponse(op *operation.Operation) *OperationResponse {
	return &OperationResponse{
		ID:           op.ID,
		AssetID:      op.AssetID,
		Kind:         string(op.Kind),
		Status:       string(op.Status),
		Parameters:   op.Parameters,
		Cost:         op.Cost,
		ResultPath:   op.ResultPath,
		ErrorMessage: op.ErrorMessage,
		CreatedAt:    op.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    op.UpdatedAt.Format(time.RFC3339),
	}
}

// parsePercent decodes the decimal text Redis hands back for a published
// int (queue.ProgressPublisher.Publish), defaulting to 0 on garbage input.
func parsePercent(s string) int {
	pct, _ := strconv.Atoi(s)
	return pct
}
