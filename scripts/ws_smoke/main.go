// Command ws_smoke dials a running relay server, sends one message into a
// conversation and waits for its broadcast echo. Useful for checking a
// deployment end to end without a real client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/parleyhq/relay-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "websocket address")
	conversation := flag.String("conversation", "", "conversation uuid")
	user := flag.String("user", "", "user uuid to send as")
	secret := flag.String("secret", "", "shared jwt secret to self-sign a token")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *conversation == "" || *user == "" || *secret == "" {
		return fmt.Errorf("-conversation, -user and -secret are required")
	}

	token, err := signToken(*secret, *user)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, *addr+"?conversation_id="+*conversation, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	payload, err := json.Marshal(proto.SendPayload{Content: *text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	frame, err := json.Marshal(proto.Inbound{Type: proto.InboundTypeSend, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var event struct {
			Type      string `json:"type"`
			MessageID string `json:"messageId"`
			SenderID  string `json:"senderId"`
			Content   string `json:"content"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			fmt.Printf("raw frame: %s\n", data)
			continue
		}

		fmt.Printf("event: type=%s messageId=%s senderId=%s\n", event.Type, event.MessageID, event.SenderID)
		if event.Type == "send" && event.Content == *text {
			fmt.Println("echo received, server is healthy")
			return nil
		}
	}
}

func signToken(secret, userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
