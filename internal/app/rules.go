package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/detect"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

func (c *cli) rulesPath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return config.ConfigPath(c.dir())
}

func (c *cli) rulesCmd() *cobra.Command {
	var (
		name     string
		expr     string
		category string
		replace  bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a custom detection pattern to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := strings.TrimSpace(name)
			rx := strings.TrimSpace(expr)
			if n == "" || rx == "" {
				return errors.New("--name and --regex are required")
			}
			pattern := config.Pattern{Name: n, Regex: rx, Category: string(model.ParseCategory(category))}
			if _, err := detect.New(config.Detection{CustomPatterns: []config.Pattern{pattern}}); err != nil {
				return err
			}

			patterns := append([]config.Pattern(nil), c.cfg.Detection.CustomPatterns...)
			replaced := false
			for i := range patterns {
				if strings.EqualFold(patterns[i].Name, n) {
					if !replace {
						return fmt.Errorf("custom pattern %q already exists; use --replace to update it", n)
					}
					patterns[i] = pattern
					replaced = true
				}
			}
			if !replaced {
				patterns = append(patterns, pattern)
			}

			path := c.rulesPath()
			if err := config.SavePatterns(path, patterns); err != nil {
				return err
			}
			verb := "added"
			if replaced {
				verb = "replaced"
			}
			fmt.Fprintf(c.out, "custom pattern %s: %s\n", verb, n)
			fmt.Fprintf(c.out, "  config: %s\n", path)
			fmt.Fprintln(c.out, "  restart `darkpatent serve` to pick it up")
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "pattern name")
	add.Flags().StringVar(&expr, "regex", "", "regular expression (RE2 syntax)")
	add.Flags().StringVar(&category, "category", "", "finding category: one of credit_card, ssn, email, ip_address, password, api_key (default unknown)")
	add.Flags().BoolVar(&replace, "replace", false, "replace an existing pattern with the same name")

	cmd := &cobra.Command{Use: "rules", Short: "Manage custom detection patterns"}
	cmd.AddCommand(
		add,
		&cobra.Command{
			Use:   "list",
			Short: "List built-in and custom detectors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				classifier, err := detect.New(c.cfg.Detection)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, "detectors:")
				for id := 1; classifier.DetectorName(id) != ""; id++ {
					fmt.Fprintf(c.out, "  %d. %s\n", id, classifier.DetectorName(id))
				}
				if len(c.cfg.Detection.CustomPatterns) == 0 {
					fmt.Fprintln(c.out, "custom patterns: (none)")
					return nil
				}
				fmt.Fprintln(c.out, "custom patterns:")
				for _, p := range c.cfg.Detection.CustomPatterns {
					fmt.Fprintf(c.out, "  %s [%s]: %s\n", p.Name, model.ParseCategory(p.Category), p.Regex)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "test TEXT",
			Short: "Show which detectors match TEXT without raising an alert",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				classifier, err := detect.New(c.cfg.Detection)
				if err != nil {
					return err
				}
				findings := classifier.Classify(strings.Join(args, " "))
				if len(findings) == 0 {
					fmt.Fprintln(c.out, "no match")
					return nil
				}
				for _, f := range findings {
					fmt.Fprintf(c.out, "%s %s (%s)\n", colorizeSeverity(model.CategorySeverity(f.Category)), classifier.DetectorName(f.DetectorID), f.Category)
				}
				return nil
			},
		},
	)
	return cmd
}
