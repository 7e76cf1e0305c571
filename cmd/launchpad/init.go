package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/launchpad/internal/domain"
	"github.com/animus-labs/launchpad/internal/initflow"
	"github.com/animus-labs/launchpad/internal/platform/env"
)

type initOptions struct {
	memory         bool
	userID         string
	organizationID string
	name           string
	slug           string
	description    string
	visibility     string
	templateID     string
	templateVer    string

	repoMode       string
	repoProvider   string
	providerSet    bool
	repoURL        string
	repoName       string
	repoVisibility string
	repoBranch     string
	includeAppCode bool
}

func (o initOptions) input() (initflow.Input, error) {
	in := initflow.Input{
		UserID:         o.userID,
		OrganizationID: o.organizationID,
		Project: initflow.ProjectData{
			Name:        o.name,
			Slug:        o.slug,
			Description: o.description,
			Visibility:  o.visibility,
		},
		TemplateID: o.templateID,
	}
	if o.templateVer != "" {
		in.TemplateConfig = domain.Metadata{"version": o.templateVer}
	}
	if o.repoMode == "" {
		return in, in.Validate()
	}
	mode := initflow.RepositoryMode(strings.ToLower(o.repoMode))
	var provider domain.Provider
	// An existing repository's provider comes from its url.
	if mode == initflow.RepositoryCreate || o.providerSet {
		provider = domain.NormalizeProvider(o.repoProvider)
	}
	in.Repository = &initflow.RepositoryConfig{
		Mode:           mode,
		Provider:       provider,
		URL:            o.repoURL,
		Name:           o.repoName,
		Visibility:     o.repoVisibility,
		AccessToken:    env.Trimmed("LAUNCHPAD_SCM_TOKEN", ""),
		DefaultBranch:  o.repoBranch,
		IncludeAppCode: o.includeAppCode,
	}
	return in, in.Validate()
}

func newInitCmd(logger *slog.Logger) *cobra.Command {
	var opts initOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a project and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.providerSet = cmd.Flags().Changed("repo-provider")
			in, err := opts.input()
			if err != nil {
				return fmt.Errorf("invalid input: %w", err)
			}
			a, err := buildApp(cmd.Context(), logger, opts.memory)
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator()
			if err != nil {
				return err
			}
			res, err := orch.Run(cmd.Context(), in)
			if err != nil {
				return err
			}
			// Nothing else consumes the in-process queue.
			if opts.memory && res.Success && len(res.JobIDs) > 0 {
				w, err := a.repositoryWorker()
				if err != nil {
					return err
				}
				if _, err := w.Drain(cmd.Context()); err != nil {
					logger.Warn("drain repository queue failed", "error", err)
				}
				if res, err = orch.Refresh(cmd.Context(), res); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New("initialization failed: " + res.Error)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.memory, "memory", false, "use in-memory stores, queue and broker")
	f.StringVar(&opts.userID, "user", "", "initiating user id")
	f.StringVar(&opts.organizationID, "org", "", "organization id")
	f.StringVar(&opts.name, "name", "", "project name")
	f.StringVar(&opts.slug, "slug", "", "project slug (derived from name when empty)")
	f.StringVar(&opts.description, "description", "", "project description")
	f.StringVar(&opts.visibility, "visibility", "private", "project visibility")
	f.StringVar(&opts.templateID, "template", "", "template id or slug")
	f.StringVar(&opts.templateVer, "template-version", "", "semver constraint for the template")
	f.StringVar(&opts.repoMode, "repo-mode", "", "existing or create; empty skips the repository")
	f.StringVar(&opts.repoProvider, "repo-provider", "github", "github or gitlab")
	f.StringVar(&opts.repoURL, "repo-url", "", "url of an existing repository")
	f.StringVar(&opts.repoName, "repo-name", "", "name of the repository to create")
	f.StringVar(&opts.repoVisibility, "repo-visibility", "private", "public or private")
	f.StringVar(&opts.repoBranch, "repo-branch", "main", "default branch")
	f.BoolVar(&opts.includeAppCode, "include-app-code", false, "push the bootstrap files after creating the repository")
	return cmd
}
