package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gaganv007/polkaagents/internal/client"
	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/service"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		return
	}

	base := flag.NewFlagSet("polkaagents-cli", flag.ExitOnError)
	addr := base.String("addr", envOr("POLKAAGENTS_ADDR", "127.0.0.1:50051"), "gRPC address")
	caller := base.String("caller", os.Getenv("POLKAAGENTS_CALLER"), "caller identity sent with every call")
	token := base.String("token", os.Getenv("POLKAAGENTS_AUTH_TOKEN"), "optional auth token for write methods")
	insecure := base.Bool("insecure", false, "use plaintext even for non-loopback addresses")
	timeout := base.Duration("timeout", 10*time.Second, "per-request timeout")
	_ = base.Parse(os.Args[1:])

	args := base.Args()
	if len(args) == 0 {
		usage()
		return
	}
	command := args[0]
	commandArgs := args[1:]

	c, err := client.New(client.Options{
		Addr:           *addr,
		Caller:         *caller,
		Token:          *token,
		Insecure:       *insecure,
		RequestTimeout: *timeout,
	})
	if err != nil {
		log.Fatalf("dial error: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	switch command {
	case "health":
		printResult(c.Health(ctx))
	case "summary":
		printResult(c.Summary(ctx))
	case "config":
		printResult(c.PlatformConfig(ctx))
	case "register":
		runRegister(ctx, c, commandArgs)
	case "update":
		runUpdate(ctx, c, commandArgs)
	case "get-agent":
		id := agentIDFlag("get-agent", commandArgs)
		printResult(c.GetAgent(ctx, id))
	case "list-agents":
		runListAgents(ctx, c, commandArgs)
	case "query":
		runQuery(ctx, c, commandArgs)
	case "respond":
		runRespond(ctx, c, commandArgs)
	case "get-interaction":
		flags := flag.NewFlagSet("get-interaction", flag.ExitOnError)
		id := flags.Uint64("id", 0, "required")
		_ = flags.Parse(commandArgs)
		printResult(c.GetInteraction(ctx, domain.InteractionID(*id)))
	case "user-interactions":
		flags := flag.NewFlagSet("user-interactions", flag.ExitOnError)
		user := flags.String("user", "", "defaults to --caller")
		_ = flags.Parse(commandArgs)
		printResult(c.ListUserInteractions(ctx, *user))
	case "agent-interactions":
		id := agentIDFlag("agent-interactions", commandArgs)
		printResult(c.ListAgentInteractions(ctx, id))
	case "withdraw":
		id := agentIDFlag("withdraw", commandArgs)
		printResult(c.WithdrawStake(ctx, id))
	case "set-fee":
		flags := flag.NewFlagSet("set-fee", flag.ExitOnError)
		fee := flags.Uint64("fee", 0, "platform fee percentage 0-100")
		_ = flags.Parse(commandArgs)
		printResult(c.UpdatePlatformFee(ctx, *fee))
	case "balance":
		flags := flag.NewFlagSet("balance", flag.ExitOnError)
		account := flags.String("account", "", "defaults to --caller")
		_ = flags.Parse(commandArgs)
		printResult(c.Balance(ctx, *account))
	case "fund":
		flags := flag.NewFlagSet("fund", flag.ExitOnError)
		account := flags.String("account", "", "required")
		amount := flags.String("amount", "", "required")
		_ = flags.Parse(commandArgs)
		if *account == "" {
			log.Fatalf("fund requires --account")
		}
		printResult(c.FundAccount(ctx, *account, mustAmount("amount", *amount)))
	default:
		usage()
	}
}

func runRegister(ctx context.Context, c *client.Client, args []string) {
	flags := flag.NewFlagSet("register", flag.ExitOnError)
	name := flags.String("name", "", "display name")
	description := flags.String("description", "", "optional")
	category := flags.String("category", "", "chatbot|translation|sentiment|summarization|job_application")
	modelInfo := flags.String("model-info", "", "optional")
	price := flags.String("price", "0", "price per query in base units")
	stake := flags.String("stake", "", "stake attached to the call (minimum 10)")
	_ = flags.Parse(args)

	if *category == "" || *stake == "" {
		log.Fatalf("register requires --category and --stake")
	}
	printResult(c.RegisterAgent(ctx, service.RegisterAgentRequest{
		Metadata: service.MetadataInput{
			Name:        *name,
			Description: *description,
			Category:    *category,
			ModelInfo:   *modelInfo,
		},
		PricePerQuery: mustAmount("price", *price),
		Value:         mustAmount("stake", *stake),
	}))
}

func runUpdate(ctx context.Context, c *client.Client, args []string) {
	flags := flag.NewFlagSet("update", flag.ExitOnError)
	id := flags.Uint("id", 0, "required")
	name := flags.String("name", "", "new display name")
	description := flags.String("description", "", "new description")
	category := flags.String("category", "", "new category")
	modelInfo := flags.String("model-info", "", "new model info")
	price := flags.String("price", "", "new price per query")
	active := flags.String("active", "", "true|false")
	_ = flags.Parse(args)

	request := service.UpdateAgentRequest{AgentID: domain.AgentID(*id)}
	seen := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { seen[f.Name] = true })

	if seen["name"] || seen["description"] || seen["category"] || seen["model-info"] {
		// Metadata is replaced as a whole; start from the current record.
		current, err := c.GetAgent(ctx, request.AgentID)
		if err != nil {
			log.Fatalf("load agent: %v", err)
		}
		metadata := service.MetadataInput{
			Name:        current.Metadata.Name,
			Description: current.Metadata.Description,
			Category:    string(current.Metadata.Category),
			ModelInfo:   current.Metadata.ModelInfo,
		}
		if seen["name"] {
			metadata.Name = *name
		}
		if seen["description"] {
			metadata.Description = *description
		}
		if seen["category"] {
			metadata.Category = *category
		}
		if seen["model-info"] {
			metadata.ModelInfo = *modelInfo
		}
		request.Metadata = &metadata
	}
	if seen["price"] {
		amount := mustAmount("price", *price)
		request.PricePerQuery = &amount
	}
	if seen["active"] {
		parsed, err := strconv.ParseBool(*active)
		if err != nil {
			log.Fatalf("--active must be true or false")
		}
		request.Active = &parsed
	}
	printResult(c.UpdateAgent(ctx, request))
}

func runListAgents(ctx context.Context, c *client.Client, args []string) {
	flags := flag.NewFlagSet("list-agents", flag.ExitOnError)
	category := flags.String("category", "", "optional")
	owner := flags.String("owner", "", "optional")
	activeOnly := flags.Bool("active-only", false, "skip inactive agents")
	_ = flags.Parse(args)
	printResult(c.ListAgents(ctx, service.ListAgentsRequest{
		Category:   *category,
		Owner:      *owner,
		ActiveOnly: *activeOnly,
	}))
}

func runQuery(ctx context.Context, c *client.Client, args []string) {
	flags := flag.NewFlagSet("query", flag.ExitOnError)
	id := flags.Uint("agent", 0, "required agent id")
	data := flags.String("data", "", "query text")
	dataFile := flags.String("data-file", "", "read the query from a file")
	payment := flags.String("pay", "", "payment attached to the call")
	_ = flags.Parse(args)

	if *payment == "" {
		log.Fatalf("query requires --pay")
	}
	payload, encoding := readPayload(*data, *dataFile)
	printResult(c.QueryAgent(ctx, service.QueryAgentRequest{
		AgentID:   domain.AgentID(*id),
		QueryData: payload,
		Encoding:  encoding,
		Value:     mustAmount("pay", *payment),
	}))
}

func runRespond(ctx context.Context, c *client.Client, args []string) {
	flags := flag.NewFlagSet("respond", flag.ExitOnError)
	id := flags.Uint64("interaction", 0, "required interaction id")
	data := flags.String("data", "", "response text")
	dataFile := flags.String("data-file", "", "read the response from a file")
	_ = flags.Parse(args)

	payload, encoding := readPayload(*data, *dataFile)
	printResult(c.SubmitResponse(ctx, service.SubmitResponseRequest{
		InteractionID: domain.InteractionID(*id),
		ResponseData:  payload,
		Encoding:      encoding,
	}))
}

func agentIDFlag(name string, args []string) domain.AgentID {
	flags := flag.NewFlagSet(name, flag.ExitOnError)
	id := flags.Uint("id", 0, "required agent id")
	_ = flags.Parse(args)
	return domain.AgentID(*id)
}

func readPayload(data, path string) (string, string) {
	if path == "" {
		return data, ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if utf8.Valid(raw) {
		return string(raw), ""
	}
	return base64.StdEncoding.EncodeToString(raw), "base64"
}

func mustAmount(name, raw string) domain.Amount {
	amount, err := domain.ParseAmount(raw)
	if err != nil {
		log.Fatalf("--%s: %v", name, err)
	}
	return amount
}

func printResult[T any](value T, err error) {
	if err != nil {
		log.Fatalf("rpc error: %v", err)
	}
	serialized, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		log.Fatalf("encode error: %v", err)
	}
	fmt.Println(string(serialized))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func usage() {
	fmt.Print(`PolkaAgents gRPC CLI

Usage:
  polkaagents-cli [--addr 127.0.0.1:50051] [--caller alice] [--token ...] <command> [flags]

Commands:
  health
  summary
  config
  register --category chatbot --stake 10 [--name "..." --price 5]
  update --id 1 [--name "..." --price 7 --active false]
  get-agent --id 1
  list-agents [--category translation --owner alice --active-only]
  query --agent 1 --pay 5 --data "..." | --data-file path
  respond --interaction 1 --data "..." | --data-file path
  get-interaction --id 1
  user-interactions [--user bob]
  agent-interactions --id 1
  withdraw --id 1
  set-fee --fee 5
  balance [--account alice]
  fund --account alice --amount 1000
`)
}
