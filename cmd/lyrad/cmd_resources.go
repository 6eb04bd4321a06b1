package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lyra/internal/config"
	"lyra/internal/domain"
	"lyra/internal/logging"
	"lyra/internal/ports"
	"lyra/internal/resources"
)

// formatResources renders a lookup result as plain text.
func formatResources(results domain.ResourceResults) string {
	var b strings.Builder
	if results.Type == domain.ResourceKindResults {
		fmt.Fprintf(&b, "%-40s %-16s %-6s %s\n", "NAME", "PHONE", "RATING", "ADDRESS")
		for _, t := range results.Therapists {
			rating := "-"
			if t.Rating != nil {
				rating = fmt.Sprintf("%.1f", *t.Rating)
			}
			phone := t.Phone
			if phone == "" {
				phone = "-"
			}
			fmt.Fprintf(&b, "%-40s %-16s %-6s %s\n", truncateText(t.Name, 40), phone, rating, t.Address)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No nearby providers found. These resources are always available:\n\n")
	}

	for _, r := range results.FallbackResources {
		fmt.Fprintf(&b, "%s: %s (%s)\n", r.Name, r.Contact, r.Description)
	}
	return b.String()
}

func newResourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Look up crisis resources",
	}
	cmd.AddCommand(newResourcesLookupCmd(nil))
	return cmd
}

// newResourcesLookupCmd creates "lyrad resources lookup <zip>". A nil finder
// is built from the environment.
func newResourcesLookupCmd(finder ports.ResourceFinder) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lookup <zip>",
		Short: "Find therapists near a US ZIP code",
		Long:  "Find therapists near a five-digit US ZIP code.\nWithout GOOGLE_MAPS_API_KEY, or when the lookup fails, only the fallback hotlines are printed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := finder
			if f == nil {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("resources lookup: %w", err)
				}
				logger, closeLog := logging.New(logging.Options{Level: cfg.Log.Level, Stderr: cmd.ErrOrStderr()})
				defer func() { _ = closeLog() }()
				f = resources.NewFinder(resources.Config{
					APIKey:  cfg.Resources.GoogleMapsAPIKey,
					BaseURL: cfg.Resources.BaseURL,
				}, logger)
			}

			results := f.Lookup(commandContext(cmd), strings.TrimSpace(args[0]))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatResources(results))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	return cmd
}
