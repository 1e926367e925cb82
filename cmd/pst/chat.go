package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zulandar/postavshik/internal/chat"
)

// chatDialer overrides the websocket dialer; tests swap in a mock.
var chatDialer chat.Dialer

func chatOpts(a *app, orderID int, onEvent func(chat.Event)) chat.Opts {
	return chat.Opts{
		OrderID:     orderID,
		Endpoint:    a.cfg.ChatURL(orderID),
		Token:       a.auth.Token(),
		Dialer:      chatDialer,
		OnEvent:     onEvent,
		PingPeriod:  time.Duration(a.cfg.Chat.PingPeriodSec) * time.Second,
		SendQueue:   a.cfg.Chat.SendQueue,
		DialTimeout: time.Duration(a.cfg.API.TimeoutSec) * time.Second,
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <order-id>",
		Short: "Chat with the counterparty of an order",
		Long: "Opens the live chat channel for an order. Each input line is sent as one\n" +
			"message; incoming messages are printed as they arrive. Type /quit or send\n" +
			"EOF to leave.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseID(args[0], "order id")
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.auth.Authenticated() {
				log.Warn().Msg("pst: not logged in; the channel will likely refuse the connection")
			}
			return runChat(cmd, a, orderID, cmd.InOrStdin())
		},
	}
}

func runChat(cmd *cobra.Command, a *app, orderID int, in io.Reader) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	opened := make(chan struct{})
	ended := make(chan chat.Event, 1)
	var openOnce sync.Once

	onEvent := func(ev chat.Event) {
		switch ev.Kind {
		case chat.EventMessage:
			fmt.Fprintln(out, formatChatLine(*ev.Message))
		case chat.EventState:
			switch ev.State {
			case chat.StateOpen:
				openOnce.Do(func() {
					fmt.Fprintf(out, "Connected to order %d. Type /quit to leave.\n", orderID)
					close(opened)
				})
			case chat.StateClosed, chat.StateErrored:
				select {
				case ended <- ev:
				default:
				}
			}
		}
	}

	s, err := chat.Open(ctx, chatOpts(a, orderID, onEvent))
	if err != nil {
		return err
	}
	defer s.Close()

	select {
	case <-opened:
	case ev := <-ended:
		return chatEnded(ev, s)
	case <-ctx.Done():
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ended:
			return chatEnded(ev, s)
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return s.Close()
			}
			if err := s.Send(line); err != nil {
				if errors.Is(err, chat.ErrSendQueueFull) {
					fmt.Fprintln(out, "(send queue full, message not sent)")
					continue
				}
				if errors.Is(err, chat.ErrNotOpen) {
					continue
				}
				return err
			}
		}
	}
}

func chatEnded(ev chat.Event, s *chat.Session) error {
	if ev.State == chat.StateErrored {
		return fmt.Errorf("chat closed: %w", s.Err())
	}
	return nil
}
