package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/gavel/internal/config"
	"github.com/MikeSquared-Agency/gavel/internal/hearing"
	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

func hearingCMD(cfg *config.Config) *cobra.Command {
	var role string
	var cmd = &cobra.Command{
		Use:   "hearing",
		Short: "Converse with the judge from the terminal",
		Long: "Starts (or resumes) the hearing for a case and reads party messages from stdin.\n" +
			"Commands: /role plaintiff|defendant, /state, /transcript, /quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := sequencer.Role(role)
			if !r.IsParty() {
				return hearing.ErrInvalidRole
			}
			return runHearing(cmd.Context(), *cfg, r, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&role, "role", string(sequencer.RolePlaintiff), "speaking party: plaintiff or defendant")
	cmd.Flags().StringVar(&cfg.CaseID, "case", cfg.CaseID, "existing case id (created when empty)")
	cmd.Flags().StringVar(&cfg.ArchetypeID, "archetype", cfg.ArchetypeID, "judge archetype")
	return cmd
}

// printer writes confirmed transcript lines and connection changes to the
// terminal.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[int]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, printed: map[int]bool{}}
}

func (p *printer) OnMessage(caseID string, m sequencer.Message) {
	if m.Pending {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed[m.Sequence] {
		return
	}
	p.printed[m.Sequence] = true
	if m.Role == sequencer.RoleJudge {
		fmt.Fprintf(p.out, "\n[%d] JUDGE: %s\n> ", m.Sequence, m.Content)
	}
}

func (p *printer) OnStateChange(change hearing.StateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\n(%s: %s)\n> ", change.To, change.Status)
}

func runHearing(parent context.Context, cfg config.Config, role sequencer.Role, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	p := newPrinter(out)
	a, err := newApp(ctx, cfg, p)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.controller.BeginHearing(ctx); err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "Hearing for case %s. Speaking as %s.\n> ", a.controller.CaseID(), role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			fmt.Fprint(out, "> ")
			continue
		case line == "/quit":
			return nil
		case line == "/state":
			fmt.Fprintf(out, "%s: %s\n> ", a.controller.State(), a.controller.Status())
			continue
		case line == "/transcript":
			for _, m := range a.controller.Transcript() {
				marker := ""
				if m.Pending {
					marker = " (sending)"
				}
				fmt.Fprintf(out, "[%d] %s: %s%s\n", m.Sequence, strings.ToUpper(string(m.Role)), m.Content, marker)
			}
			fmt.Fprint(out, "> ")
			continue
		case strings.HasPrefix(line, "/role "):
			next := sequencer.Role(strings.TrimSpace(strings.TrimPrefix(line, "/role ")))
			if !next.IsParty() {
				fmt.Fprintf(out, "%v\n> ", hearing.ErrInvalidRole)
				continue
			}
			role = next
			fmt.Fprintf(out, "Speaking as %s.\n> ", role)
			continue
		}

		if a.controller.Concluded() {
			fmt.Fprint(out, "The hearing has concluded.\n")
			return nil
		}
		if err := a.controller.SendMessage(ctx, role, line); err != nil {
			fmt.Fprintf(out, "%v\n> ", describe(err))
		}
	}
}

// describe turns transport failures into a one-line message for the terminal.
func describe(err error) error {
	var te *transport.Error
	if errors.As(err, &te) && te.Kind != transport.KindHTTP {
		return fmt.Errorf("backend unreachable (%s): %s", te.Kind, te.Message)
	}
	return err
}
