// Package main is a smoke-test utility that verifies the platform's HTTP API
// is reachable and returning valid responses. It issues real HTTP requests to
// the health endpoint and the program catalog and prints the status codes and
// response bodies, making it useful for quick post-deployment checks without
// needing external tooling like curl or a full integration test suite.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	base := os.Getenv("API_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	for _, path := range []string{"/health", "/api/v1/institutions/programs"} {
		resp, err := http.Get(base + path)
		if err != nil {
			fmt.Printf("GET %s error: %v\n", path, err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			fmt.Printf("GET %s: error reading body: %v\n", path, err)
			continue
		}

		fmt.Printf("GET %s → %d\n%s\n\n", path, resp.StatusCode, string(body))
	}
}
