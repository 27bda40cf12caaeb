package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"nutrition-platform/backend/internal/bootstrap"
	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/security"
)

var stepsCmd = &cobra.Command{
	Use:   "steps <role>",
	Short: "List the onboarding steps of a role",
	Args:  cobra.ExactArgs(1),
	RunE:  runSteps,
}

func runSteps(cmd *cobra.Command, args []string) error {
	role, err := parseRole(args[0])
	if err != nil {
		return err
	}
	e, err := load(cmd)
	if err != nil {
		return err
	}
	defer e.cancel()
	reg, err := bootstrap.LoadRegistry(e.cfg, e.logger)
	if err != nil {
		return err
	}
	if err := reg.Validate(role); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tTITLE\tREQUIRED\tSKIPPABLE\tESTIMATE")
	for i, d := range reg.Definitions(role) {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\t%s\n", i+1, d.ID, d.Title, d.IsRequired, d.CanSkip, d.EstimatedDuration())
	}
	return w.Flush()
}

var showCmd = &cobra.Command{
	Use:   "show <user> <role>",
	Short: "Print the stored progress of a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	role, err := parseRole(args[1])
	if err != nil {
		return err
	}
	e, err := load(cmd)
	if err != nil {
		return err
	}
	defer e.cancel()
	reg, err := bootstrap.LoadRegistry(e.cfg, e.logger)
	if err != nil {
		return err
	}
	stores, err := bootstrap.OpenStores(e.ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	p, src, err := stores.Adapter.Load(e.ctx, args[0], role, reg.Definitions(role))
	if err != nil {
		return err
	}
	out := struct {
		Source     string           `json:"source"`
		Progress   *domain.Progress `json:"progress"`
		Submission *submissionView  `json:"submission,omitempty"`
	}{Source: string(src), Progress: p}
	if stores.Submissions != nil {
		sub, err := stores.Submissions.Get(e.ctx, args[0], role)
		if err != nil {
			return err
		}
		if sub != nil {
			out.Submission = &submissionView{Status: sub.Status, UpdatedAt: sub.UpdatedAt, SubmittedAt: sub.SubmittedAt, Fields: len(sub.FormData)}
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type submissionView struct {
	Status      string     `json:"status"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	Fields      int        `json:"fields"`
}

var resetPurge bool

var resetCmd = &cobra.Command{
	Use:   "reset <user> <role>",
	Short: "Restart a user's onboarding from the first step",
	Long: `Overwrite the stored progress with a fresh aggregate and discard saved form data.
With --purge the progress is deleted instead, as if the user never started.`,
	Args: cobra.ExactArgs(2),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetPurge, "purge", false, "Delete stored progress instead of writing a fresh aggregate")
}

func runReset(cmd *cobra.Command, args []string) error {
	userID := args[0]
	role, err := parseRole(args[1])
	if err != nil {
		return err
	}
	e, err := load(cmd)
	if err != nil {
		return err
	}
	defer e.cancel()
	reg, err := bootstrap.LoadRegistry(e.cfg, e.logger)
	if err != nil {
		return err
	}
	stores, err := bootstrap.OpenStores(e.ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if resetPurge {
		if err := stores.Local.Delete(e.ctx, domain.CacheKey(userID, role)); err != nil {
			return err
		}
		if stores.Remote != nil {
			if err := stores.Remote.Delete(e.ctx, userID, role); err != nil {
				return err
			}
		}
	} else {
		fresh := domain.NewProgress(userID, role, reg.Definitions(role), time.Now().UTC())
		if err := stores.Adapter.Overwrite(e.ctx, fresh); err != nil {
			return err
		}
	}
	if stores.Submissions != nil {
		if err := stores.Submissions.Reset(e.ctx, userID, role); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset onboarding for %s (%s)\n", userID, role)
	return nil
}

var tokenCmd = &cobra.Command{
	Use:   "token <user> <role>",
	Short: "Mint an access token signed with JWT_PRIVATE_KEY (development only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	role, err := parseRole(args[1])
	if err != nil {
		return err
	}
	e, err := load(cmd)
	if err != nil {
		return err
	}
	defer e.cancel()
	if e.cfg.IsProduction() {
		return fmt.Errorf("token minting is disabled when APP_ENV=production")
	}
	priv, pub, err := security.LoadKeys(e.cfg.JWTPrivateKey, e.cfg.JWTPublicKey)
	if err != nil {
		return err
	}
	tokens := security.NewTokenProvider(priv, pub, e.cfg.JWTIssuer, e.cfg.JWTAudience, e.cfg.AccessTTL())
	tok, exp, err := tokens.IssueAccess(args[0], role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
