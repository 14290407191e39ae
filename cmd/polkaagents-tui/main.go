package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/gaganv007/polkaagents/internal/client"
	"github.com/gaganv007/polkaagents/internal/tui"
)

func main() {
	log.SetFlags(0)

	flags := flag.NewFlagSet("polkaagents-tui", flag.ExitOnError)
	addr := flags.String("addr", envOr("POLKAAGENTS_ADDR", "127.0.0.1:50051"), "gRPC address")
	caller := flags.String("caller", os.Getenv("POLKAAGENTS_CALLER"), "identity queries are sent as")
	token := flags.String("token", os.Getenv("POLKAAGENTS_AUTH_TOKEN"), "optional auth token for write methods")
	insecure := flags.Bool("insecure", false, "use plaintext even for non-loopback addresses")
	timeout := flags.Duration("timeout", 10*time.Second, "per-request timeout")
	_ = flags.Parse(os.Args[1:])

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

	if err := tui.Run(c, *caller); err != nil {
		log.Fatalf("%v", err)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
