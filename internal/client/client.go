package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/rpccontract"
	"github.com/gaganv007/polkaagents/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRetryAttempts  = 3
)

type Options struct {
	Addr string
	// Caller is sent as the x-polkaagents-caller identity on every call.
	Caller string
	Token  string
	// Insecure forces plaintext. Loopback addresses are always plaintext.
	Insecure       bool
	RequestTimeout time.Duration
	RetryAttempts  int
	DialOptions    []grpc.DialOption
}

// Client talks to the marketplace gRPC service. Read methods are retried on
// transient failures; write methods are sent once so a payment is never
// attached twice.
type Client struct {
	conn          *grpc.ClientConn
	caller        string
	token         string
	requestTO     time.Duration
	retryAttempts int
	backoff       time.Duration
}

func New(options Options) (*Client, error) {
	addr := strings.TrimSpace(options.Addr)
	if addr == "" {
		return nil, fmt.Errorf("grpc address is required")
	}
	cred := grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	if options.Insecure || strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "passthrough:") {
		cred = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	dialOptions := append([]grpc.DialOption{
		cred,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                25 * time.Second,
			Timeout:             6 * time.Second,
			PermitWithoutStream: true,
		}),
	}, options.DialOptions...)
	conn, err := grpc.NewClient(addr, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn.Connect()

	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	attempts := options.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	return &Client{
		conn:          conn,
		caller:        strings.TrimSpace(options.Caller),
		token:         strings.TrimSpace(options.Token),
		requestTO:     timeout,
		retryAttempts: attempts,
		backoff:       250 * time.Millisecond,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	response := &structpb.Struct{}
	if err := c.invoke(ctx, rpccontract.MethodGetHealth, &emptypb.Empty{}, response); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

func (c *Client) Summary(ctx context.Context) (domain.Summary, error) {
	return invokeEmpty[domain.Summary](ctx, c, rpccontract.MethodGetSummary)
}

func (c *Client) PlatformConfig(ctx context.Context) (domain.PlatformConfig, error) {
	return invokeEmpty[domain.PlatformConfig](ctx, c, rpccontract.MethodGetPlatformConfig)
}

func (c *Client) RegisterAgent(ctx context.Context, request service.RegisterAgentRequest) (domain.Agent, error) {
	return invokeStruct[domain.Agent](ctx, c, rpccontract.MethodRegisterAgent, request)
}

func (c *Client) UpdateAgent(ctx context.Context, request service.UpdateAgentRequest) (domain.Agent, error) {
	return invokeStruct[domain.Agent](ctx, c, rpccontract.MethodUpdateAgent, request)
}

func (c *Client) GetAgent(ctx context.Context, id domain.AgentID) (domain.Agent, error) {
	return invokeStruct[domain.Agent](ctx, c, rpccontract.MethodGetAgent, map[string]any{"agent_id": id})
}

func (c *Client) ListAgents(ctx context.Context, request service.ListAgentsRequest) ([]domain.Agent, error) {
	payload, err := encodeRequest(request)
	if err != nil {
		return nil, err
	}
	response := &structpb.ListValue{}
	if err := c.invoke(ctx, rpccontract.MethodListAgents, payload, response); err != nil {
		return nil, err
	}
	agents := []domain.Agent{}
	if err := decodeResponse(response, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (c *Client) QueryAgent(ctx context.Context, request service.QueryAgentRequest) (service.InteractionView, error) {
	return invokeStruct[service.InteractionView](ctx, c, rpccontract.MethodQueryAgent, request)
}

func (c *Client) SubmitResponse(ctx context.Context, request service.SubmitResponseRequest) (service.InteractionView, error) {
	return invokeStruct[service.InteractionView](ctx, c, rpccontract.MethodSubmitResponse, request)
}

func (c *Client) GetInteraction(ctx context.Context, id domain.InteractionID) (service.InteractionView, error) {
	return invokeStruct[service.InteractionView](ctx, c, rpccontract.MethodGetInteraction, map[string]any{"interaction_id": id})
}

// ListUserInteractions lists the caller's own interactions when user is empty.
func (c *Client) ListUserInteractions(ctx context.Context, user string) (service.InteractionList, error) {
	return invokeStruct[service.InteractionList](ctx, c, rpccontract.MethodListUserInteractions, map[string]any{"user": strings.TrimSpace(user)})
}

func (c *Client) ListAgentInteractions(ctx context.Context, id domain.AgentID) (service.InteractionList, error) {
	return invokeStruct[service.InteractionList](ctx, c, rpccontract.MethodListAgentInteractions, map[string]any{"agent_id": id})
}

func (c *Client) WithdrawStake(ctx context.Context, id domain.AgentID) (domain.Agent, error) {
	return invokeStruct[domain.Agent](ctx, c, rpccontract.MethodWithdrawStake, service.WithdrawStakeRequest{AgentID: id})
}

func (c *Client) UpdatePlatformFee(ctx context.Context, fee uint64) (domain.PlatformConfig, error) {
	return invokeStruct[domain.PlatformConfig](ctx, c, rpccontract.MethodUpdatePlatformFee, service.UpdatePlatformFeeRequest{FeePercentage: fee})
}

func (c *Client) Balance(ctx context.Context, account string) (service.BalanceView, error) {
	return invokeStruct[service.BalanceView](ctx, c, rpccontract.MethodGetBalance, map[string]any{"account": strings.TrimSpace(account)})
}

func (c *Client) FundAccount(ctx context.Context, account string, amount domain.Amount) (service.BalanceView, error) {
	return invokeStruct[service.BalanceView](ctx, c, rpccontract.MethodFundAccount, service.FundAccountRequest{Account: account, Amount: amount})
}

func invokeEmpty[T any](ctx context.Context, c *Client, method string) (T, error) {
	var out T
	response := &structpb.Struct{}
	if err := c.invoke(ctx, method, &emptypb.Empty{}, response); err != nil {
		return out, err
	}
	err := decodeResponse(response, &out)
	return out, err
}

func invokeStruct[T any](ctx context.Context, c *Client, method string, request any) (T, error) {
	var out T
	payload, err := encodeRequest(request)
	if err != nil {
		return out, err
	}
	response := &structpb.Struct{}
	if err := c.invoke(ctx, method, payload, response); err != nil {
		return out, err
	}
	err = decodeResponse(response, &out)
	return out, err
}

func (c *Client) invoke(ctx context.Context, method string, request, response proto.Message) error {
	attempts := c.retryAttempts
	if rpccontract.IsWriteMethod(method) || attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTO)
		callCtx = c.withMetadata(callCtx)

		invokeErr := c.conn.Invoke(callCtx, method, request, response)
		cancel()
		if invokeErr == nil {
			return nil
		}
		lastErr = invokeErr
		if !isRetryable(invokeErr) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return lastErr
}

func (c *Client) withMetadata(ctx context.Context) context.Context {
	pairs := make([]string, 0, 4)
	if c.caller != "" {
		pairs = append(pairs, rpccontract.CallerMetadataKey, c.caller)
	}
	if c.token != "" {
		pairs = append(pairs, rpccontract.TokenMetadataKey, c.token)
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func encodeRequest(request any) (*structpb.Struct, error) {
	serialized, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, fmt.Errorf("shape request: %w", err)
	}
	return structpb.NewStruct(decoded)
}

// decodeResponse goes through encoding/json rather than protojson so large
// integral numbers come back in plain decimal form.
func decodeResponse(response proto.Message, out any) error {
	var shaped any
	switch typed := response.(type) {
	case *structpb.Struct:
		shaped = typed.AsMap()
	case *structpb.ListValue:
		shaped = typed.AsSlice()
	default:
		return fmt.Errorf("unsupported response type %T", response)
	}
	serialized, err := json.Marshal(shaped)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := json.Unmarshal(serialized, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
