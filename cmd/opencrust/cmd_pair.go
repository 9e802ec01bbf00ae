// Copyright (C) 2026 OpenCrust Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var gatewayURL string

func init() {
	pairCmd.PersistentFlags().StringVar(&gatewayURL, "gateway",
		"http://127.0.0.1:8090", "base URL of the running gateway")
}

// adminPost sends an authenticated JSON request to the gateway's admin
// API. Pairing codes live in the gateway's memory, so pairing commands
// have to go through the API rather than the database.
func adminPost(path string, payload any) (map[string]any, int, error) {
	adminToken := os.Getenv("OPENCRUST_ADMIN_TOKEN")
	if adminToken == "" {
		return nil, 0, fmt.Errorf("OPENCRUST_ADMIN_TOKEN is not set")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, gatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("reaching gateway at %s: %w", gatewayURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("gateway returned %s: %s", resp.Status, string(data))
	}
	return decoded, resp.StatusCode, nil
}

func runPairNew(cmd *cobra.Command, args []string) {
	channel := args[0]

	result, status, err := adminPost("/api/pairing", map[string]string{"channel": channel})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if status != http.StatusOK {
		log.Fatalf("Gateway refused the request (%d): %v", status, result["error"])
	}

	fmt.Printf("Pairing code for %s: %s\n", result["channel"], result["code"])
	fmt.Printf("Expires at %s\n", result["expires_at"])
	fmt.Println("Have the new sender submit this code on the channel within 5 minutes.")
}

func runPairClaim(cmd *cobra.Command, args []string) {
	channel, userID, code := args[0], args[1], args[2]

	result, status, err := adminPost("/api/pairing/claim", map[string]string{
		"channel": channel,
		"user_id": userID,
		"code":    code,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	outcome, _ := result["result"].(string)
	if status == http.StatusOK {
		fmt.Printf("Authorized %s on %s\n", userID, channel)
		return
	}
	if outcome != "" {
		log.Fatalf("Claim rejected: %s", outcome)
	}
	log.Fatalf("Gateway refused the request (%d): %v", status, result["error"])
}
