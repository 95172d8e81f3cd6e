// Command smoke-chat drives a running authority + api pair end to end:
// register two users, open a conversation, send a message twice with the
// same client id, and verify exactly one copy comes back.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

var client = &http.Client{Timeout: 5 * time.Second}

func main() {
	authorityURL := envOr("CAREBRIDGE_AUTHORITY_URL", "http://localhost:8081")
	apiURL := envOr("CAREBRIDGE_API_URL", "http://localhost:8080")

	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Int63()
	emailA := fmt.Sprintf("smoke-a-%d@example.com", suffix)
	emailB := fmt.Sprintf("smoke-b-%d@example.com", suffix)

	register(authorityURL, emailA)
	idB := register(authorityURL, emailB)
	tokenA := login(authorityURL, emailA)
	tokenB := login(authorityURL, emailB)

	var conv struct {
		ID string `json:"id"`
	}
	post(apiURL+"/conversations", tokenA, map[string]string{"participant_id": idB}, &conv)
	if conv.ID == "" {
		log.Fatal("create conversation: empty id")
	}

	clientMsgID := fmt.Sprintf("smoke-%d", suffix)
	body := map[string]string{"content": "hello from smoke", "message_id": clientMsgID}
	var sent struct {
		MessageID string `json:"message_id"`
	}
	post(apiURL+"/conversations/"+conv.ID+"/messages", tokenA, body, &sent)
	var retried struct {
		MessageID string `json:"message_id"`
	}
	post(apiURL+"/conversations/"+conv.ID+"/messages", tokenA, body, &retried)
	if sent.MessageID != retried.MessageID {
		log.Fatalf("retry returned a different id: %s vs %s", sent.MessageID, retried.MessageID)
	}

	var page struct {
		Items []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"items"`
	}
	get(apiURL+"/conversations/"+conv.ID+"/messages", tokenB, &page)
	count := 0
	for _, m := range page.Items {
		if m.ID == clientMsgID {
			count++
		}
	}
	if count != 1 {
		log.Fatalf("expected exactly one copy of the message, got %d", count)
	}

	var convs struct {
		Items []struct {
			ID     string `json:"id"`
			Unread int64  `json:"unread_count"`
		} `json:"items"`
	}
	get(apiURL+"/conversations", tokenB, &convs)
	for _, c := range convs.Items {
		if c.ID == conv.ID && c.Unread != 0 {
			log.Fatalf("unread should be 0 after fetching, got %d", c.Unread)
		}
	}

	fmt.Printf("✅ chat smoke test passed: conversation=%s message=%s\n", conv.ID, sent.MessageID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func register(base, email string) string {
	var res struct {
		UserID string `json:"user_id"`
	}
	post(base+"/register", "", map[string]string{
		"email":    email,
		"password": "smoke-password-1",
	}, &res)
	if res.UserID == "" {
		log.Fatalf("register %s: empty user id", email)
	}
	return res.UserID
}

func login(base, email string) string {
	var res struct {
		AccessToken string `json:"access_token"`
	}
	post(base+"/login", "", map[string]string{
		"email":    email,
		"password": "smoke-password-1",
	}, &res)
	if res.AccessToken == "" {
		log.Fatalf("login %s: empty access token", email)
	}
	return res.AccessToken
}

func post(url, token string, body, dst any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	do(req, token, dst)
}

func get(url, token string, dst any) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	do(req, token, dst)
}

func do(req *http.Request, token string, dst any) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Fatalf("%s %s: status %d", req.Method, req.URL, resp.StatusCode)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			log.Fatalf("decode %s: %v", req.URL, err)
		}
	}
}
