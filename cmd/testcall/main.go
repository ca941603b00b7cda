// Command testcall places an outbound call through Twilio that points back at
// a deployed bridge, so the full call path can be exercised end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

func main() {
	to := flag.String("to", "", "destination number in E.164 form (required)")
	from := flag.String("from", os.Getenv("TWILIO_PHONE_NUMBER"), "caller number, defaults to TWILIO_PHONE_NUMBER")
	baseURL := flag.String("url", envOrDefault("WEBHOOK_URL", "http://localhost:3000"), "deployed bridge base URL")
	endpoint := flag.String("endpoint", "/voice", "webhook path to exercise")
	flag.Parse()

	// Missing env.local is fine; credentials may come from the environment.
	_ = godotenv.Load("env.local")

	if *to == "" {
		flag.Usage()
		log.Fatal("missing required -to number")
	}
	if *from == "" {
		log.Fatal("no caller number: set -from or TWILIO_PHONE_NUMBER")
	}

	if err := checkStatus(*baseURL); err != nil {
		log.Fatalf("bridge status check failed: %v", err)
	}

	// TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are read from the environment.
	client := twilio.NewRestClient()

	params := &api.CreateCallParams{}
	params.SetTo(*to)
	params.SetFrom(*from)
	params.SetUrl(*baseURL + *endpoint)

	resp, err := client.Api.CreateCall(params)
	if err != nil {
		log.Fatalf("failed to create call: %v", err)
	}
	if resp.Sid == nil {
		log.Fatal("call created but no SID returned")
	}

	fmt.Printf("call initiated: sid=%s status=%s\n", *resp.Sid, deref(resp.Status))

	time.Sleep(5 * time.Second)

	call, err := client.Api.FetchCall(*resp.Sid, &api.FetchCallParams{})
	if err != nil {
		log.Fatalf("failed to fetch call status: %v", err)
	}
	fmt.Printf("call %s: status=%s duration=%s direction=%s\n",
		*resp.Sid, deref(call.Status), deref(call.Duration), deref(call.Direction))
}

// checkStatus verifies the bridge is reachable before spending a real call.
func checkStatus(baseURL string) error {
	resp, err := http.Get(baseURL + "/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, baseURL)
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}
	fmt.Printf("bridge running: agent_id=%v api_key=%v\n", status["agent_id"], status["api_key"])
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
