package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"marketchat/internal/channel"
	"marketchat/internal/chat"
	"marketchat/internal/config"
	"marketchat/internal/logger"
	"marketchat/internal/models"
	"marketchat/internal/restclient"
	"marketchat/internal/tui"
)

func main() {
	room := flag.String("room", "", "room id to open (defaults to CHAT_ROOM)")
	logFile := flag.String("log", "", "write debug logs to this file")
	flag.Parse()

	log := logger.Nop()
	if *logFile != "" {
		l, err := logger.NewFile(*logFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "logger:", err)
			os.Exit(1)
		}
		log = l
	}
	defer log.Sync()

	cfg, err := config.LoadClient(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *room != "" {
		cfg.Room = *room
	}
	if cfg.Room == "" {
		fmt.Fprintln(os.Stderr, "no room: pass -room or set CHAT_ROOM")
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := channel.New(channel.Config{URL: cfg.WebsocketURL(), Token: cfg.Token, Log: log})
	go func() {
		if err := ch.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("channel stopped", "error", err)
		}
	}()

	self := models.Participant{ID: cfg.UserID, Name: cfg.UserName}
	host := tui.NewHost()
	session := chat.NewSession(ctx, ch, chat.Deps{
		Self:     self,
		Backend:  restclient.New(cfg.ServerURL, cfg.Token),
		Viewport: host.Viewport(),
		Notifier: host,
		Post:     host.Post,
		Changed:  host.Changed,
		Focus:    host.Focus,
		Log:      log,
		Options:  tui.Options(),
	})

	program := tea.NewProgram(host.Attach(session, self, cfg.Room), tea.WithAltScreen(), tea.WithMouseCellMotion())
	host.SetSender(program.Send)
	_, err := program.Run()

	// The program loop is gone; posts are dropped from here on.
	session.Close()
	return err
}
