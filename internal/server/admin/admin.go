// Package admin implements the operator commands of sessionctl.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
)

const Usage = `usage: sessionctl [flags] <command>

commands:
  migrate                              apply database migrations
  sweep                                delete expired tokens now
  revoke-user <userID>                 revoke every token of a user
  revoke-family <userID> <familyID>    revoke one token family
  list-family <userID> <familyID>      print the members of a family`

var ErrUsage = errors.New("invalid command line")

type Families interface {
	RevokeAll(ctx context.Context, userID int64) error
	RevokeFamily(ctx context.Context, userID int64, familyID string) error
	ListFamily(ctx context.Context, userID int64, familyID string) ([]models.RefreshToken, error)
}

type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Migrator interface {
	RunMigrations(ctx context.Context) error
}

type Runner struct {
	families Families
	reaper   Sweeper
	migrator Migrator
	out      io.Writer
	now      func() time.Time
}

func NewRunner(f Families, s Sweeper, m Migrator, out io.Writer) *Runner {
	return &Runner{families: f, reaper: s, migrator: m, out: out, now: time.Now}
}

// Run executes one command. args holds the command name and its operands.
func (r *Runner) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "migrate":
		if err := r.migrator.RunMigrations(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "migrations applied")

	case "sweep":
		n, err := r.reaper.SweepExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "deleted %d expired tokens\n", n)

	case "revoke-user":
		if len(rest) != 1 {
			return ErrUsage
		}
		userID, err := parseUserID(rest[0])
		if err != nil {
			return err
		}
		if err := r.families.RevokeAll(ctx, userID); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "revoked all tokens of user %d\n", userID)

	case "revoke-family":
		if len(rest) != 2 {
			return ErrUsage
		}
		userID, err := parseUserID(rest[0])
		if err != nil {
			return err
		}
		if err := r.families.RevokeFamily(ctx, userID, rest[1]); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "revoked family %s of user %d\n", rest[1], userID)

	case "list-family":
		if len(rest) != 2 {
			return ErrUsage
		}
		userID, err := parseUserID(rest[0])
		if err != nil {
			return err
		}
		tokens, err := r.families.ListFamily(ctx, userID, rest[1])
		if err != nil {
			return err
		}
		return r.printFamily(tokens)

	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}

	return nil
}

func (r *Runner) printFamily(tokens []models.RefreshToken) error {
	if len(tokens) == 0 {
		fmt.Fprintln(r.out, "no tokens")
		return nil
	}

	now := r.now()
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN_ID\tCREATED_AT\tEXPIRES_AT\tREVOKED\tACTIVE\tIP\tUSER_AGENT")
	for i := range tokens {
		t := &tokens[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%s\n",
			t.TokenID,
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.ExpiresAt.UTC().Format(time.RFC3339),
			t.IsRevoked,
			t.IsActive(now),
			dash(t.CreatedFromIP),
			dash(t.UserAgent),
		)
	}
	return w.Flush()
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad user id %q", ErrUsage, s)
	}
	return id, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
