// Command chatclient is a terminal chat client for marketplace discussions. It logs in with a
// user's shadow chat credentials and reads commands from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"discussion-service/internal/chatproto"
	"discussion-service/internal/middleware"
	"discussion-service/internal/session"
)

const usage = `commands:
  /rooms                 list joined rooms
  /show <room>           print the cached messages of a room
  /join <room>           join a room
  /send <room> <text>    send a message
  /reconnect             drop the connection and sync again
  /quit`

func main() {
	homeserver := flag.String("homeserver", "http://localhost:8008", "chat homeserver URL")
	user := flag.String("user", "", "chat handle")
	password := flag.String("password", "", "chat password")
	api := flag.String("api", "", "discussion-service base URL; enables unread notifications on send")
	token := flag.String("token", "", "bearer token for the discussion service")
	secret := flag.String("jwt-secret", "", "sign a token locally instead of passing -token")
	uid := flag.Int("uid", 0, "marketplace user id for -jwt-secret")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []session.Option{
		session.WithErrorHandler(func(err error) { fmt.Fprintf(os.Stderr, "error: %v\n", err) }),
	}
	if *api != "" {
		bearer := *token
		if bearer == "" && *secret != "" {
			signed, err := middleware.NewTokenValidator(*secret).IssueToken(*uid, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			})
			if err != nil {
				log.Fatalf("sign token: %v", err)
			}
			bearer = signed
		}
		opts = append(opts, session.WithNewMessageNotifier(session.NewHTTPNotifier(*api, bearer, nil)))
	}

	manager := session.NewManager(session.NewProtocolConnector(chatproto.Connector{
		HomeserverURL: *homeserver,
		ClientOptions: []chatproto.ClientOption{chatproto.WithRequestTimeout(15 * time.Second)},
		SyncTimeout:   30 * time.Second,
	}), opts...)
	defer manager.Disconnect()

	creds := chatproto.Credentials{User: *user, Password: *password}
	if err := connect(ctx, manager, creds); err != nil {
		os.Exit(1)
	}
	fmt.Println(usage)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, manager, creds, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func connect(ctx context.Context, manager *session.Manager, creds chatproto.Credentials) error {
	if err := manager.Connect(ctx, creds); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := manager.WaitConnected(waitCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	fmt.Printf("connected, %d rooms\n", len(manager.Rooms()))
	return nil
}

func run(ctx context.Context, manager *session.Manager, creds chatproto.Credentials, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "/quit":
		return true
	case "/rooms":
		for _, room := range manager.Rooms() {
			fmt.Printf("%s  %s  (%d messages)\n", room.ID, room.Name, len(room.Messages))
		}
	case "/show":
		for _, room := range manager.Rooms() {
			if room.ID != rest {
				continue
			}
			for _, msg := range room.Messages {
				ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
				fmt.Printf("[%s] %s: %s\n", ts, chatproto.Localpart(msg.Sender), msg.Body)
			}
		}
	case "/join":
		_ = manager.JoinRoom(ctx, rest)
	case "/send":
		roomID, text, _ := strings.Cut(rest, " ")
		_ = manager.SendMessage(ctx, roomID, text)
	case "/reconnect":
		manager.Disconnect()
		_ = connect(ctx, manager, creds)
	default:
		fmt.Println(usage)
	}
	return false
}
