package rpccontract

const (
	ServiceName = "polkaagents.v1.Marketplace"
)

// Metadata keys carried on every call.
const (
	CallerMetadataKey = "x-polkaagents-caller"
	TokenMetadataKey  = "x-polkaagents-token"
)

const (
	MethodGetHealth             = "/" + ServiceName + "/GetHealth"
	MethodGetSummary            = "/" + ServiceName + "/GetSummary"
	MethodGetPlatformConfig     = "/" + ServiceName + "/GetPlatformConfig"
	MethodRegisterAgent         = "/" + ServiceName + "/RegisterAgent"
	MethodUpdateAgent           = "/" + ServiceName + "/UpdateAgent"
	MethodGetAgent              = "/" + ServiceName + "/GetAgent"
	MethodListAgents            = "/" + ServiceName + "/ListAgents"
	MethodQueryAgent            = "/" + ServiceName + "/QueryAgent"
	MethodSubmitResponse        = "/" + ServiceName + "/SubmitResponse"
	MethodGetInteraction        = "/" + ServiceName + "/GetInteraction"
	MethodListUserInteractions  = "/" + ServiceName + "/ListUserInteractions"
	MethodListAgentInteractions = "/" + ServiceName + "/ListAgentInteractions"
	MethodWithdrawStake         = "/" + ServiceName + "/WithdrawStake"
	MethodUpdatePlatformFee     = "/" + ServiceName + "/UpdatePlatformFee"
	MethodGetBalance            = "/" + ServiceName + "/GetBalance"
	MethodFundAccount           = "/" + ServiceName + "/FundAccount"
)

// WriteMethods mutate registry or ledger state. They require a caller and,
// when the server has a token configured, a matching token.
var WriteMethods = map[string]struct{}{
	MethodRegisterAgent:     {},
	MethodUpdateAgent:       {},
	MethodQueryAgent:        {},
	MethodSubmitResponse:    {},
	MethodWithdrawStake:     {},
	MethodUpdatePlatformFee: {},
	MethodFundAccount:       {},
}

func IsWriteMethod(fullMethod string) bool {
	_, ok := WriteMethods[fullMethod]
	return ok
}
