package main

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"

	"receptionist/internal/dashboard"
)

func main() {
	url := cli.StringP("url", "u", "http://localhost:5000", "Dashboard address")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.TimeOnly})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tail, err := dashboard.Dial(ctx, *url)
	if err != nil {
		log.Error("Failed to connect to dashboard", "err", err)
		os.Exit(1)
	}
	context.AfterFunc(ctx, func() { tail.Close() })

	for {
		msg, err := tail.Read()
		if err != nil {
			if ctx.Err() == nil {
				log.Error("Dashboard connection lost", "err", err)
				os.Exit(1)
			}
			return
		}

		switch msg.Event {
		case "history":
			for _, e := range msg.Data {
				printEntry(e.Type, e.Text)
			}
		default:
			printEntry(msg.Type, msg.Text)
		}
	}
}

func printEntry(kind, text string) {
	fmt.Printf("%-9s %s\n", kind+":", text)
}
