// Load harness for the gateway. Spins up a mock upstream, builds and runs
// the server against it, then drives traffic with vegeta. The optional
// chaos flag adds clients that disconnect mid-stream at random.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	upstreamAddr = "127.0.0.1:9091"
	gatewayAddr  = "127.0.0.1:8081"
	platformKey  = "sk-bench-key-12345"
)

type benchOpts struct {
	duration time.Duration
	rate     int
	stream   bool
	chaos    bool
}

func main() {
	var opts benchOpts
	flag.DurationVar(&opts.duration, "duration", 10*time.Second, "attack duration")
	flag.IntVar(&opts.rate, "rate", 50, "requests per second")
	flag.BoolVar(&opts.stream, "stream", false, "use streaming requests")
	flag.BoolVar(&opts.chaos, "chaos", false, "add randomly disconnecting clients")
	flag.Parse()

	go serveMockUpstream()

	stopGateway, err := startGateway()
	if err != nil {
		log.Fatal(err)
	}
	defer stopGateway()

	if err := waitHealthy("http://" + gatewayAddr + "/health"); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	if opts.chaos {
		workers := opts.rate / 10
		if workers < 4 {
			workers = 4
		}
		fmt.Printf("chaos: %d disconnecting clients\n", workers)
		for i := 0; i < workers; i++ {
			go disruptLoop(done)
		}
	}

	metrics := attack(opts)
	close(done)

	reporter := vegeta.NewTextReporter(metrics)
	if err := reporter.Report(os.Stdout); err != nil {
		log.Fatal(err)
	}

	os.Remove("bench.db")
}

func attack(opts benchOpts) *vegeta.Metrics {
	mode := "unary"
	if opts.stream {
		mode = "streaming"
	}
	fmt.Printf("attacking (%s): %s at %d req/s\n", mode, opts.duration, opts.rate)

	target := vegeta.Target{
		Method: "POST",
		URL:    "http://" + gatewayAddr + "/v1/chat/completions",
		Body:   []byte(requestBody(opts.stream)),
		Header: http.Header{
			"Content-Type":  []string{"application/json"},
			"Authorization": []string{"Bearer " + platformKey},
		},
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	pace := vegeta.Rate{Freq: opts.rate, Per: time.Second}

	var metrics vegeta.Metrics
	for res := range attacker.Attack(vegeta.NewStaticTargeter(target), pace, opts.duration, "gateway") {
		metrics.Add(res)
	}
	metrics.Close()
	return &metrics
}

func requestBody(stream bool) string {
	body := map[string]any{
		"model": "bench-model",
		"messages": []map[string]string{
			{"role": "user", "content": "Hello"},
		},
	}
	if stream {
		body["stream"] = true
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

// disruptLoop issues streaming requests and hangs up after 1-200ms.
func disruptLoop(done chan struct{}) {
	client := &http.Client{}
	payload := requestBody(true)

	for {
		select {
		case <-done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(rand.Intn(200)+1)*time.Millisecond)
		req, _ := http.NewRequestWithContext(ctx, "POST",
			"http://"+gatewayAddr+"/v1/chat/completions", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+platformKey)

		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
		}
		cancel()

		time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
	}
}

func startGateway() (func(), error) {
	fmt.Println("building gateway...")
	build := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	if err := os.WriteFile("bench_config.yaml", []byte(benchConfig), 0644); err != nil {
		return nil, err
	}
	if err := os.WriteFile("bench_models.yaml", []byte(benchTable), 0644); err != nil {
		return nil, err
	}

	serverLog, err := os.Create("bench_server.log")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("./bin/server")
	cmd.Env = append(os.Environ(), "CONFIG_FILE=bench_config.yaml", "LOG_LEVEL=error")
	cmd.Stdout = serverLog
	cmd.Stderr = serverLog
	if err := cmd.Start(); err != nil {
		serverLog.Close()
		return nil, fmt.Errorf("start: %w", err)
	}

	return func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		serverLog.Close()
		os.Remove("bench_config.yaml")
		os.Remove("bench_models.yaml")
	}, nil
}

func waitHealthy(url string) error {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("gateway never became healthy at %s", url)
}

func serveMockUpstream() {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", mockCompletion)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_ = http.ListenAndServe(upstreamAddr, mux)
}

func mockCompletion(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	if streaming, _ := req["stream"].(bool); streaming {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, word := range []string{"Bench", "mark", " response"} {
			time.Sleep(50 * time.Millisecond)
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}

	time.Sleep(10 * time.Millisecond)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"id":"bench-123","model":"bench-model-v1","choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}]}`)
}

var benchConfig = `
server:
  port: "8081"
  env: development
  api_keys:
    - key: ` + platformKey + `
      org_id: org-bench
rate_limit:
  requests_per_second: 100000
  burst: 100000
registry:
  path: bench_models.yaml
prompt_store:
  dsn: bench.db
credentials:
  - provider: openai
    api_key: mock-key
`

var benchTable = `
models:
  - id: bench-model
    candidates:
      - provider: openai
        model: bench-model-v1
        context_length: 128000
        auth: bearer
        base_url: http://` + upstreamAddr + `/v1
`
