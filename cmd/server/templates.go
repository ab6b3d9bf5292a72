package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NoraXie/echoid/internal/factory"
)

const defaultTemplatesTimeout = 30 * time.Second

// NewTemplatesCmd creates the templates command group.
func NewTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage the reply templates for the configured language",
	}
	cmd.AddCommand(newTemplatesSeedCmd(), newTemplatesClearCmd(), newTemplatesCountCmd())
	return cmd
}

func newTemplatesSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed [template...]",
		Short: "Add templates from arguments or a file with one template per line",
		Long: `Adds reply templates to the Redis set for TEMPLATE_LANGUAGE.
Templates may use {app_name}, {otp} and {link}; {otp} is required.
Lines starting with # are ignored. Seeding is idempotent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := collectTemplates(file, args)
			if err != nil {
				return err
			}
			return withStores(cmd, defaultTemplatesTimeout, func(ctx context.Context, f *factory.Factory) error {
				added, err := f.Templates().Add(ctx, templates...)
				if err != nil {
					return err
				}
				cmd.Printf("Added %d of %d templates to %s\n", added, len(templates), f.Templates().Key())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read templates from file (- for stdin)")
	return cmd
}

func newTemplatesClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every template for the configured language",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStores(cmd, defaultTemplatesTimeout, func(ctx context.Context, f *factory.Factory) error {
				templates := f.Templates()
				n, err := templates.Count(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					cmd.Printf("No templates found in %s\n", templates.Key())
					return nil
				}
				if err := templates.Clear(ctx); err != nil {
					return err
				}
				cmd.Printf("Deleted %d templates from %s\n", n, templates.Key())
				return nil
			})
		},
	}
}

func newTemplatesCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print how many templates are stored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStores(cmd, defaultTemplatesTimeout, func(ctx context.Context, f *factory.Factory) error {
				n, err := f.Templates().Count(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("%d\n", n)
				return nil
			})
		},
	}
}

func collectTemplates(file string, args []string) ([]string, error) {
	templates := append([]string(nil), args...)
	if file != "" {
		var r io.Reader = os.Stdin
		if file != "-" {
			fh, err := os.Open(file)
			if err != nil {
				return nil, fmt.Errorf("failed to open templates file: %w", err)
			}
			defer fh.Close()
			r = fh
		}
		fromFile, err := parseTemplates(r)
		if err != nil {
			return nil, err
		}
		templates = append(templates, fromFile...)
	}
	if len(templates) == 0 {
		return nil, errors.New("no templates given")
	}
	for _, tpl := range templates {
		if !strings.Contains(tpl, "{otp}") {
			return nil, fmt.Errorf("template %q has no {otp} placeholder", tpl)
		}
	}
	return templates, nil
}

// parseTemplates reads one template per line, skipping blanks and # comments.
func parseTemplates(r io.Reader) ([]string, error) {
	var templates []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		templates = append(templates, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	return templates, nil
}
