package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whiteboard/backend/internal/client"
	"whiteboard/backend/internal/shape"
)

// 命令行白板客户端：加入房间、可选画一个图形、打印当前视图
func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "whiteboard server base url")
	token := flag.String("token", os.Getenv("WHITEBOARD_TOKEN"), "access token (or use -email/-password)")
	email := flag.String("email", "", "sign in with this email when no token is given")
	password := flag.String("password", "", "password for -email")
	room := flag.String("room", "", "room id to join")
	draw := flag.String("draw", "", "draw a demo shape: rect|circle|line|text")
	watch := flag.Duration("watch", 0, "keep printing the view for this long")
	flag.Parse()

	if err := run(*addr, *token, *email, *password, *room, *draw, *watch); err != nil {
		log.Fatalf("board_client: %v", err)
	}
}

func run(addr, token, email, password, room, draw string, watch time.Duration) error {
	if room == "" {
		return fmt.Errorf("-room is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if token == "" {
		if email == "" {
			return fmt.Errorf("need -token or -email/-password")
		}
		t, err := client.Signin(ctx, addr, email, password)
		if err != nil {
			return err
		}
		token = t
	}

	c := client.New(addr, token)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	if err := c.JoinRoom(ctx, room); err != nil {
		return err
	}
	log.Printf("joined room %s, %d shapes replayed", room, c.Canvas().Len())

	if draw != "" {
		s, err := demoShape(draw)
		if err != nil {
			return err
		}
		env, err := c.Draw(s)
		if err != nil {
			return err
		}
		log.Printf("drew %s id=%s", s.Kind(), env.ID)
	}

	printView(c.Canvas())
	if watch <= 0 {
		return nil
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	deadline := time.After(watch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case err := <-done:
			return fmt.Errorf("connection closed: %w", err)
		case <-ticker.C:
			printView(c.Canvas())
		}
	}
}

func demoShape(kind string) (shape.Shape, error) {
	switch shape.Kind(kind) {
	case shape.KindRect:
		return shape.Rect{Left: 10, Top: 10, Width: 50, Height: 20}, nil
	case shape.KindCircle:
		return shape.Circle{Left: 100, Top: 100, Radius: 20}, nil
	case shape.KindLine:
		return shape.Line{X1: 0, Y1: 0, X2: 120, Y2: 80}, nil
	case shape.KindText:
		return shape.Text{Left: 40, Top: 160, Text: "hello", FontSize: 20}, nil
	}
	return nil, fmt.Errorf("unknown shape %q", kind)
}

func printView(c *client.Canvas) {
	envs := c.Envelopes()
	fmt.Printf("%d shapes\n", len(envs))
	for i, env := range envs {
		raw, err := shape.Marshal(env.Shape)
		if err != nil {
			continue
		}
		fmt.Printf("  %2d %-36s %s\n", i, env.ID, raw)
	}
}
