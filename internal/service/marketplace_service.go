package service

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/registry"
)

type Options struct {
	StoreDriver string
	// Faucet enables FundAccount.
	Faucet bool
	Logger *slog.Logger
}

type MarketplaceService struct {
	registry  *registry.Registry
	options   Options
	logger    *slog.Logger
	startedAt time.Time
}

func NewMarketplaceService(reg *registry.Registry, options Options) *MarketplaceService {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketplaceService{
		registry:  reg,
		options:   options,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

type MetadataInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ModelInfo   string `json:"model_info"`
}

type RegisterAgentRequest struct {
	Metadata      MetadataInput `json:"metadata"`
	PricePerQuery domain.Amount `json:"price_per_query"`
	// Value is the stake attached to the call.
	Value domain.Amount `json:"value"`
}

type UpdateAgentRequest struct {
	AgentID       domain.AgentID `json:"agent_id"`
	Metadata      *MetadataInput `json:"metadata,omitempty"`
	PricePerQuery *domain.Amount `json:"price_per_query,omitempty"`
	Active        *bool          `json:"active,omitempty"`
	Value         domain.Amount  `json:"value"`
}

type ListAgentsRequest struct {
	Category   string `json:"category"`
	Owner      string `json:"owner"`
	ActiveOnly bool   `json:"active_only"`
}

type QueryAgentRequest struct {
	AgentID   domain.AgentID `json:"agent_id"`
	QueryData string         `json:"query_data"`
	// Encoding is "utf8" (default) or "base64".
	Encoding string `json:"encoding,omitempty"`
	// Value is the payment attached to the call.
	Value domain.Amount `json:"value"`
}

type SubmitResponseRequest struct {
	InteractionID domain.InteractionID `json:"interaction_id"`
	ResponseData  string               `json:"response_data"`
	Encoding      string               `json:"encoding,omitempty"`
	Value         domain.Amount        `json:"value"`
}

type WithdrawStakeRequest struct {
	AgentID domain.AgentID `json:"agent_id"`
	Value   domain.Amount  `json:"value"`
}

type UpdatePlatformFeeRequest struct {
	FeePercentage uint64        `json:"fee_percentage"`
	Value         domain.Amount `json:"value"`
}

type FundAccountRequest struct {
	Account string        `json:"account"`
	Amount  domain.Amount `json:"amount"`
}

// InteractionView renders payloads as text when they are valid UTF-8 and as
// base64 otherwise.
type InteractionView struct {
	ID               domain.InteractionID     `json:"interaction_id"`
	AgentID          domain.AgentID           `json:"agent_id"`
	User             domain.Identity          `json:"user"`
	QueryData        string                   `json:"query_data"`
	QueryEncoding    string                   `json:"query_encoding"`
	ResponseData     *string                  `json:"response_data"`
	ResponseEncoding string                   `json:"response_encoding,omitempty"`
	Timestamp        domain.Timestamp         `json:"timestamp"`
	Status           domain.InteractionStatus `json:"status"`
	FeePaid          domain.Amount            `json:"fee_paid"`
}

type InteractionList struct {
	InteractionIDs []domain.InteractionID `json:"interaction_ids"`
	Interactions   []InteractionView      `json:"interactions"`
}

type BalanceView struct {
	Account domain.Identity `json:"account"`
	Balance domain.Amount   `json:"balance"`
}

func (s *MarketplaceService) Health() map[string]any {
	now := time.Now().UTC()
	return map[string]any{
		"status":         "ok",
		"store_driver":   s.options.StoreDriver,
		"time_utc":       now.Format(time.RFC3339Nano),
		"uptime_seconds": int64(now.Sub(s.startedAt).Seconds()),
	}
}

func (s *MarketplaceService) Summary() domain.Summary {
	return s.registry.Summary()
}

func (s *MarketplaceService) PlatformConfig() domain.PlatformConfig {
	return s.registry.PlatformConfig()
}

func (s *MarketplaceService) RegisterAgent(ctx context.Context, caller domain.Identity, request RegisterAgentRequest) (domain.Agent, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return domain.Agent{}, err
	}
	metadata, err := request.Metadata.toDomain()
	if err != nil {
		return domain.Agent{}, err
	}

	agentID, err := s.registry.RegisterAgent(ctx, registry.Call{Caller: caller, Value: request.Value}, registry.RegisterAgentParams{
		Metadata:      metadata,
		PricePerQuery: request.PricePerQuery,
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return s.GetAgent(agentID)
}

func (s *MarketplaceService) UpdateAgent(ctx context.Context, caller domain.Identity, request UpdateAgentRequest) (domain.Agent, error) {
	call, err := nonPayable(caller, request.Value)
	if err != nil {
		return domain.Agent{}, err
	}
	params := registry.UpdateAgentParams{
		AgentID:       request.AgentID,
		PricePerQuery: request.PricePerQuery,
		Active:        request.Active,
	}
	if request.Metadata != nil {
		metadata, err := request.Metadata.toDomain()
		if err != nil {
			return domain.Agent{}, err
		}
		params.Metadata = &metadata
	}
	if err := s.registry.UpdateAgent(ctx, call, params); err != nil {
		return domain.Agent{}, err
	}
	return s.GetAgent(request.AgentID)
}

func (s *MarketplaceService) GetAgent(id domain.AgentID) (domain.Agent, error) {
	agent, ok := s.registry.GetAgent(id)
	if !ok {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	return agent, nil
}

func (s *MarketplaceService) ListAgents(request ListAgentsRequest) ([]domain.Agent, error) {
	filter := domain.AgentFilter{
		Owner:      domain.Identity(strings.TrimSpace(request.Owner)),
		ActiveOnly: request.ActiveOnly,
	}
	if raw := strings.TrimSpace(request.Category); raw != "" {
		category, err := domain.ParseCategory(raw)
		if err != nil {
			return nil, err
		}
		filter.Category = category
	}
	return s.registry.ListAgents(filter), nil
}

func (s *MarketplaceService) QueryAgent(ctx context.Context, caller domain.Identity, request QueryAgentRequest) (InteractionView, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return InteractionView{}, err
	}
	query, err := decodePayload(request.QueryData, request.Encoding, "query_data")
	if err != nil {
		return InteractionView{}, err
	}

	interactionID, err := s.registry.QueryAgent(ctx, registry.Call{Caller: caller, Value: request.Value}, request.AgentID, query)
	if err != nil {
		return InteractionView{}, err
	}
	return s.GetInteraction(interactionID)
}

func (s *MarketplaceService) SubmitResponse(ctx context.Context, caller domain.Identity, request SubmitResponseRequest) (InteractionView, error) {
	call, err := nonPayable(caller, request.Value)
	if err != nil {
		return InteractionView{}, err
	}
	response, err := decodePayload(request.ResponseData, request.Encoding, "response_data")
	if err != nil {
		return InteractionView{}, err
	}
	if err := s.registry.SubmitResponse(ctx, call, request.InteractionID, response); err != nil {
		return InteractionView{}, err
	}
	return s.GetInteraction(request.InteractionID)
}

func (s *MarketplaceService) GetInteraction(id domain.InteractionID) (InteractionView, error) {
	interaction, ok := s.registry.GetInteraction(id)
	if !ok {
		return InteractionView{}, domain.ErrInteractionNotFound
	}
	return NewInteractionView(interaction), nil
}

func (s *MarketplaceService) ListUserInteractions(user domain.Identity) (InteractionList, error) {
	user = domain.Identity(strings.TrimSpace(string(user)))
	if user == "" {
		return InteractionList{}, domain.InvalidArgument("user is required")
	}
	return s.expand(s.registry.GetUserInteractions(user)), nil
}

func (s *MarketplaceService) ListAgentInteractions(id domain.AgentID) InteractionList {
	return s.expand(s.registry.GetAgentInteractions(id))
}

func (s *MarketplaceService) WithdrawStake(ctx context.Context, caller domain.Identity, request WithdrawStakeRequest) (domain.Agent, error) {
	call, err := nonPayable(caller, request.Value)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := s.registry.WithdrawStake(ctx, call, request.AgentID); err != nil {
		return domain.Agent{}, err
	}
	return s.GetAgent(request.AgentID)
}

func (s *MarketplaceService) UpdatePlatformFee(ctx context.Context, caller domain.Identity, request UpdatePlatformFeeRequest) (domain.PlatformConfig, error) {
	call, err := nonPayable(caller, request.Value)
	if err != nil {
		return domain.PlatformConfig{}, err
	}
	if err := s.registry.UpdatePlatformFee(ctx, call, request.FeePercentage); err != nil {
		return domain.PlatformConfig{}, err
	}
	return s.registry.PlatformConfig(), nil
}

func (s *MarketplaceService) Balance(account domain.Identity) (BalanceView, error) {
	account = domain.Identity(strings.TrimSpace(string(account)))
	if account == "" {
		return BalanceView{}, domain.InvalidArgument("account is required")
	}
	return BalanceView{Account: account, Balance: s.registry.Balance(account)}, nil
}

// FundAccount credits an account from the development faucet. Only the
// platform owner may call it.
func (s *MarketplaceService) FundAccount(ctx context.Context, caller domain.Identity, request FundAccountRequest) (BalanceView, error) {
	call, err := nonPayable(caller, 0)
	if err != nil {
		return BalanceView{}, err
	}
	if !s.options.Faucet {
		return BalanceView{}, domain.FailedPrecondition("faucet is disabled; set ledger.faucet=true")
	}
	if call.Caller != s.registry.PlatformConfig().Owner {
		return BalanceView{}, domain.PermissionDenied("only the platform owner can fund accounts")
	}
	account := domain.Identity(strings.TrimSpace(request.Account))
	balance, err := s.registry.Credit(ctx, account, request.Amount)
	if err != nil {
		return BalanceView{}, err
	}
	s.logger.InfoContext(ctx, "account funded", "caller", call.Caller, "account", account, "amount", request.Amount.String())
	return BalanceView{Account: account, Balance: balance}, nil
}

func (s *MarketplaceService) expand(ids []domain.InteractionID) InteractionList {
	out := InteractionList{
		InteractionIDs: ids,
		Interactions:   make([]InteractionView, 0, len(ids)),
	}
	for _, id := range ids {
		if interaction, ok := s.registry.GetInteraction(id); ok {
			out.Interactions = append(out.Interactions, NewInteractionView(interaction))
		}
	}
	return out
}

func NewInteractionView(interaction domain.Interaction) InteractionView {
	view := InteractionView{
		ID:        interaction.ID,
		AgentID:   interaction.AgentID,
		User:      interaction.User,
		Timestamp: interaction.Timestamp,
		Status:    interaction.Status,
		FeePaid:   interaction.FeePaid,
	}
	view.QueryData, view.QueryEncoding = encodePayload(interaction.QueryData)
	if interaction.HasResponse() {
		text, encoding := encodePayload(interaction.ResponseData)
		view.ResponseData = &text
		view.ResponseEncoding = encoding
	}
	return view
}

func (m MetadataInput) toDomain() (domain.AgentMetadata, error) {
	category, err := domain.ParseCategory(m.Category)
	if err != nil {
		return domain.AgentMetadata{}, err
	}
	return domain.AgentMetadata{
		Name:        strings.TrimSpace(m.Name),
		Description: strings.TrimSpace(m.Description),
		Category:    category,
		ModelInfo:   strings.TrimSpace(m.ModelInfo),
	}, nil
}

func requireCaller(caller domain.Identity) (domain.Identity, error) {
	caller = domain.Identity(strings.TrimSpace(string(caller)))
	if caller == "" {
		return "", domain.Unauthenticated("caller identity is required")
	}
	return caller, nil
}

func nonPayable(caller domain.Identity, value domain.Amount) (registry.Call, error) {
	caller, err := requireCaller(caller)
	if err != nil {
		return registry.Call{}, err
	}
	if value != 0 {
		return registry.Call{}, domain.InvalidArgument("method is not payable; value must be 0")
	}
	return registry.Call{Caller: caller}, nil
}

func decodePayload(raw, encoding, field string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf8", "utf-8", "text":
		return []byte(raw), nil
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, domain.InvalidArgument(field + " is not valid base64")
		}
		return decoded, nil
	default:
		return nil, domain.InvalidArgument("encoding must be utf8 or base64")
	}
}

func encodePayload(data []byte) (string, string) {
	if utf8.Valid(data) {
		return string(data), "utf8"
	}
	return base64.StdEncoding.EncodeToString(data), "base64"
}
