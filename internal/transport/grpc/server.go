package grpcx

import (
	"context"
	"encoding/json"

	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/rpccontract"
	"github.com/gaganv007/polkaagents/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type MarketplaceRPCServer interface {
	GetHealth(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPlatformConfig(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RegisterAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAgents(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	QueryAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitResponse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInteraction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListUserInteractions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAgentInteractions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WithdrawStake(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdatePlatformFee(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FundAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type agentRef struct {
	AgentID domain.AgentID `json:"agent_id"`
}

type interactionRef struct {
	InteractionID domain.InteractionID `json:"interaction_id"`
}

type userRef struct {
	User domain.Identity `json:"user"`
}

type accountRef struct {
	Account domain.Identity `json:"account"`
}

type MarketplaceHandler struct {
	marketplace *service.MarketplaceService
}

func NewMarketplaceHandler(marketplace *service.MarketplaceService) *MarketplaceHandler {
	return &MarketplaceHandler{marketplace: marketplace}
}

func RegisterMarketplaceServer(server grpc.ServiceRegistrar, handler MarketplaceRPCServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: rpccontract.ServiceName,
		HandlerType: (*MarketplaceRPCServer)(nil),
		Methods: []grpc.MethodDesc{
			emptyMethod("GetHealth", rpccontract.MethodGetHealth, MarketplaceRPCServer.GetHealth),
			emptyMethod("GetSummary", rpccontract.MethodGetSummary, MarketplaceRPCServer.GetSummary),
			emptyMethod("GetPlatformConfig", rpccontract.MethodGetPlatformConfig, MarketplaceRPCServer.GetPlatformConfig),
			structMethod("RegisterAgent", rpccontract.MethodRegisterAgent, MarketplaceRPCServer.RegisterAgent),
			structMethod("UpdateAgent", rpccontract.MethodUpdateAgent, MarketplaceRPCServer.UpdateAgent),
			structMethod("GetAgent", rpccontract.MethodGetAgent, MarketplaceRPCServer.GetAgent),
			structMethod("ListAgents", rpccontract.MethodListAgents, MarketplaceRPCServer.ListAgents),
			structMethod("QueryAgent", rpccontract.MethodQueryAgent, MarketplaceRPCServer.QueryAgent),
			structMethod("SubmitResponse", rpccontract.MethodSubmitResponse, MarketplaceRPCServer.SubmitResponse),
			structMethod("GetInteraction", rpccontract.MethodGetInteraction, MarketplaceRPCServer.GetInteraction),
			structMethod("ListUserInteractions", rpccontract.MethodListUserInteractions, MarketplaceRPCServer.ListUserInteractions),
			structMethod("ListAgentInteractions", rpccontract.MethodListAgentInteractions, MarketplaceRPCServer.ListAgentInteractions),
			structMethod("WithdrawStake", rpccontract.MethodWithdrawStake, MarketplaceRPCServer.WithdrawStake),
			structMethod("UpdatePlatformFee", rpccontract.MethodUpdatePlatformFee, MarketplaceRPCServer.UpdatePlatformFee),
			structMethod("GetBalance", rpccontract.MethodGetBalance, MarketplaceRPCServer.GetBalance),
			structMethod("FundAccount", rpccontract.MethodFundAccount, MarketplaceRPCServer.FundAccount),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "proto/polkaagents/v1/marketplace.proto",
	}, handler)
}

func (h *MarketplaceHandler) GetHealth(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.marketplace.Health())
}

func (h *MarketplaceHandler) GetSummary(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.marketplace.Summary())
}

func (h *MarketplaceHandler) GetPlatformConfig(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.marketplace.PlatformConfig())
}

func (h *MarketplaceHandler) RegisterAgent(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.RegisterAgentRequest](request)
	if err != nil {
		return nil, err
	}
	agent, err := h.marketplace.RegisterAgent(ctx, CallerFromContext(ctx), decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(agent)
}

func (h *MarketplaceHandler) UpdateAgent(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.UpdateAgentRequest](request)
	if err != nil {
		return nil, err
	}
	agent, err := h.marketplace.UpdateAgent(ctx, CallerFromContext(ctx), decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(agent)
}

func (h *MarketplaceHandler) GetAgent(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[agentRef](request)
	if err != nil {
		return nil, err
	}
	agent, err := h.marketplace.GetAgent(decoded.AgentID)
	if err != nil {
		return nil, err
	}
	return toStruct(agent)
}

func (h *MarketplaceHandler) ListAgents(_ context.Context, request *structpb.Struct) (*structpb.ListValue, error) {
	decoded, err := decodeStruct[service.ListAgentsRequest](request)
	if err != nil {
		return nil, err
	}
	agents, err := h.marketplace.ListAgents(decoded)
	if err != nil {
		return nil, err
	}
	return toList(agents)
}

func (h *MarketplaceHandler) QueryAgent(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.QueryAgentRequest](request)
	if err != nil {
		return nil, err
	}
	interaction, err := h.marketplace.QueryAgent(ctx, CallerFromContext(ctx), decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(interaction)
}

func (h *MarketplaceHandler) SubmitResponse(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.SubmitResponseRequest](request)
	if err != nil {
		return nil, err
	}
	interaction, err := h.marketplace.SubmitResponse(ctx, CallerFromContext(ctx), decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(interaction)
}

func (h *MarketplaceHandler) GetInteraction(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[interactionRef](request)
	if err != nil {
		return nil, err
	}
	interaction, err := h.marketplace.GetInteraction(decoded.InteractionID)
	if err != nil {
		return nil, err
	}
	return toStruct(interaction)
}

func (h *MarketplaceHandler) ListUserInteractions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[userRef](request)
	if err != nil {
		return nil, err
	}
	user := decoded.User
	if user == "" {
		user = CallerFromContext(ctx)
	}
	list, err := h.marketplace.ListUserInteractions(user)
	if err != nil {
		return nil, err
	}
	return toStruct(list)
}

func (h *MarketplaceHandler) ListAgentInteractions(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[agentRef](request)
	if err != nil {
		return nil, err
	}
	return toStruct(h.marketplace.ListAgentInteractions(decoded.AgentID))
}

func (h *MarketplaceHandler) WithdrawStake(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.WithdrawStakeRequest](request)
	if err != nil {
		return nil, err
	}
	agent, err := h.marketplace.WithdrawStake(ctx, CallerFromContext(ctx), decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(agent)
}

func (h *MarketplaceHandler) UpdatePlatformFee(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.UpdatePlatformFeeRequest](request)
	if err != nil {
		return nil, err
	}
	config, err := h.marketplace.UpdatePlatformFee(ctx, CallerFromContext(ctx), decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(config)
}

func (h *MarketplaceHandler) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[accountRef](request)
	if err != nil {
		return nil, err
	}
	account := decoded.Account
	if account == "" {
		account = CallerFromContext(ctx)
	}
	balance, err := h.marketplace.Balance(account)
	if err != nil {
		return nil, err
	}
	return toStruct(balance)
}

func (h *MarketplaceHandler) FundAccount(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.FundAccountRequest](request)
	if err != nil {
		return nil, err
	}
	balance, err := h.marketplace.FundAccount(ctx, CallerFromContext(ctx), decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(balance)
}

func toStruct(value any) (*structpb.Struct, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response", err)
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response object", err)
	}
	result, err := structpb.NewStruct(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf struct", err)
	}
	return result, nil
}

func toList(value any) (*structpb.ListValue, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response list", err)
	}
	decoded := []any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response list", err)
	}
	result, err := structpb.NewList(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf list", err)
	}
	return result, nil
}

func decodeStruct[T any](input *structpb.Struct) (T, error) {
	var out T
	if input == nil {
		return out, nil
	}
	serialized, err := json.Marshal(input.AsMap())
	if err != nil {
		return out, domain.InvalidArgument("request payload could not be encoded")
	}
	if err := json.Unmarshal(serialized, &out); err != nil {
		return out, domain.InvalidArgument("request payload shape is invalid: " + err.Error())
	}
	return out, nil
}

// emptyMethod and structMethod build the unary handlers protoc would
// otherwise generate, one per request message type.
func emptyMethod[Resp proto.Message](
	name, fullMethod string,
	call func(MarketplaceRPCServer, context.Context, *emptypb.Empty) (Resp, error),
) grpc.MethodDesc {
	return unaryMethod(name, fullMethod, func() *emptypb.Empty { return new(emptypb.Empty) }, call)
}

func structMethod[Resp proto.Message](
	name, fullMethod string,
	call func(MarketplaceRPCServer, context.Context, *structpb.Struct) (Resp, error),
) grpc.MethodDesc {
	return unaryMethod(name, fullMethod, func() *structpb.Struct { return new(structpb.Struct) }, call)
}

func unaryMethod[Req, Resp proto.Message](
	name, fullMethod string,
	newRequest func() Req,
	call func(MarketplaceRPCServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(
			srv any,
			ctx context.Context,
			decoder func(any) error,
			interceptor grpc.UnaryServerInterceptor,
		) (any, error) {
			request := newRequest()
			if err := decoder(request); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MarketplaceRPCServer), ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MarketplaceRPCServer), ctx, req.(Req))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}
