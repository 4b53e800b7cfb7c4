// ABOUTME: Developer subcommands: render-templates writes sample .eml files, token mints an access token.
// ABOUTME: Neither needs a database; they read only the email settings or JWT_SECRET.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/keystone-hpc/keystone/internal/auth"
	"github.com/keystone-hpc/keystone/internal/config"
	"github.com/keystone-hpc/keystone/internal/notify"
	"github.com/keystone-hpc/keystone/internal/store"
)

// ── render-templates ──────────────────────────────────────────────────────────

func renderTemplatesCmd() *cobra.Command {
	var outDir, templateDir string
	cmd := &cobra.Command{
		Use:   "render-templates",
		Short: "Render the notification templates with mock data into .eml files",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadEmail()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if templateDir != "" {
				cfg.TemplateDir = templateDir
			}
			written, err := renderTemplates(cfg, outDir, time.Now())
			if err != nil {
				return err
			}
			for _, path := range written {
				slog.Info("template rendered", "path", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory the .eml files are written to")
	cmd.Flags().StringVar(&templateDir, "templates", "", "custom template directory (overrides EMAIL_TEMPLATE_DIR)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// renderTemplates renders every shipped template against mock data and
// writes one .eml per template into outDir, returning the written paths.
func renderTemplates(cfg *config.EmailConfig, outDir string, now time.Time) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	loader := notify.NewTemplateLoader(cfg.TemplateDir, cfg.DefaultDir)
	user, req, allocs := mockRecipient(now)

	samples := []struct {
		template string
		subject  string
		context  map[string]any
	}{
		{
			template: notify.TemplateUpcomingExpiration,
			subject:  fmt.Sprintf("Your HPC allocation #%s is expiring soon", req.ID),
			context:  notify.UpcomingExpirationContext(user, req, allocs, 7),
		},
		{
			template: notify.TemplatePastExpiration,
			subject:  fmt.Sprintf("Your HPC allocation #%s has expired", req.ID),
			context:  notify.PastExpirationContext(user, req, allocs),
		},
	}

	written := make([]string, 0, len(samples))
	for _, s := range samples {
		tmpl, err := loader.GetTemplate(s.template)
		if err != nil {
			return written, fmt.Errorf("load %s: %w", s.template, err)
		}
		html, text, err := notify.FormatTemplate(tmpl, s.context)
		if err != nil {
			return written, fmt.Errorf("render %s: %w", s.template, err)
		}
		path := filepath.Join(outDir, strings.TrimSuffix(s.template, ".html")+".eml")
		e := notify.Email{To: []string{user.Email}, Subject: s.subject, HTML: html, Text: text}
		if err := notify.WriteEML(path, cfg.FromName, cfg.FromAddress, e); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// mockRecipient builds a plausible user and request for template previews.
func mockRecipient(now time.Time) (store.User, store.AllocationRequest, []store.Allocation) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	submitted := today.AddDate(-1, 0, 0)
	active := submitted.AddDate(0, 0, 14)
	expire := today.AddDate(0, 0, 7)
	awarded, final := 100000, 87500

	user := store.User{
		ID:         uuid.New(),
		Username:   "jsmith",
		Email:      "jsmith@example.com",
		FirstName:  "John",
		LastName:   "Smith",
		IsActive:   true,
		DateJoined: submitted,
	}
	req := store.AllocationRequest{
		ID:        uuid.New(),
		Title:     "Project Title",
		TeamID:    uuid.New(),
		TeamName:  "Team Name",
		Status:    store.RequestApproved,
		Submitted: submitted,
		Active:    &active,
		Expire:    &expire,
	}
	allocs := []store.Allocation{
		{ClusterName: "Cluster 1", Requested: 100000, Awarded: &awarded, Final: &final},
		{ClusterName: "Cluster 2", Requested: 250000},
	}
	return user, req, allocs
}

// ── token ─────────────────────────────────────────────────────────────────────

func tokenCmd() *cobra.Command {
	var (
		userFlag string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			secret, err := config.LoadJWTSecret()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			tok, err := auth.IssueAccessToken([]byte(secret), userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "user UUID the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
