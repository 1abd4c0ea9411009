package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/chat"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("130")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	aiStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("135")).
		Bold(true)

	photoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

func newChatCmd(c *cli) *cobra.Command {
	var lat, lng float64

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Start an interactive chat session. Responses are revealed word by word.

Commands:
  /starters      show starter questions
  /loc LAT LNG   set your location
  /new           start a fresh session
  /quit          exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			r := &repl{
				svc:      a.service,
				sessions: a.sessions,
				in:       cmd.InOrStdin(),
				out:      cmd.OutOrStdout(),
				interval: c.cfg.Server.RevealInterval,
				location: schema.LatLng{Lat: lat, Lng: lng},
			}
			return r.run(ctx)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "your latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "your longitude")
	return cmd
}

// repl drives one terminal conversation.
type repl struct {
	svc      *chat.Service
	sessions *chat.Registry
	in       io.Reader
	out      io.Writer
	interval time.Duration
	location schema.LatLng

	sess *chat.Session
}

func (r *repl) run(ctx context.Context) error {
	if err := r.newSession(ctx); err != nil {
		return err
	}

	sc := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, promptStyle.Render("you> "))
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, hintStyle.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		frags, err := r.svc.Turn(ctx, r.sess, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintln(r.out, hintStyle.Render(err.Error()))
			continue
		}
		if err := r.reveal(ctx, frags); err != nil {
			return nil
		}
		r.sess.DrainNew()
	}
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		r.sessions.Delete(r.sess.ID())
		return false, r.newSession(ctx)
	case "/starters":
		r.printStarters(r.svc.Starters(ctx, r.sess))
		return false, nil
	case "/loc":
		if len(fields) != 3 {
			return false, errors.New("usage: /loc LAT LNG")
		}
		lat, errLat := strconv.ParseFloat(fields[1], 64)
		lng, errLng := strconv.ParseFloat(fields[2], 64)
		if errLat != nil || errLng != nil {
			return false, errors.New("usage: /loc LAT LNG")
		}
		loc := schema.LatLng{Lat: lat, Lng: lng}
		if err := r.sess.SetLocation(loc); err != nil {
			return false, err
		}
		r.location = loc
		fmt.Fprintln(r.out, hintStyle.Render(fmt.Sprintf("location set to %v, %v", lat, lng)))
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func (r *repl) newSession(ctx context.Context) error {
	sess, err := r.sessions.Create()
	if err != nil {
		return err
	}
	if !r.location.IsZero() {
		if err := sess.SetLocation(r.location); err != nil {
			return err
		}
	}
	r.sess = sess

	fmt.Fprintln(r.out, bannerStyle.Render("CoffeeGPT"))
	r.printStarters(r.svc.Starters(ctx, sess))
	return nil
}

func (r *repl) printStarters(qs []string) {
	fmt.Fprintln(r.out, hintStyle.Render("Try asking:"))
	for _, q := range qs {
		fmt.Fprintln(r.out, hintStyle.Render("  • "+q))
	}
}

func (r *repl) reveal(ctx context.Context, frags []chat.DisplayFragment) error {
	fmt.Fprint(r.out, aiStyle.Render("coffeegpt> "))
	for i, f := range frags {
		if i > 0 {
			fmt.Fprint(r.out, "\n\n")
		}
		err := chat.Reveal(ctx, f.Text, r.interval, func(word string) error {
			_, err := io.WriteString(r.out, word)
			return err
		})
		if err != nil {
			return err
		}
		if f.HasPhoto() {
			fmt.Fprint(r.out, "\n"+photoStyle.Render("photo: "+f.PhotoURL))
		}
	}
	fmt.Fprintln(r.out)
	return nil
}
