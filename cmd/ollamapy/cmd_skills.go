package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

var listRole string

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skill registry",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered skills",
	RunE:  runSkillsList,
}

var skillsShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show one skill in full, including its source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSkillsShow,
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	if listRole != "" && !skills.ValidRole(listRole) {
		return fmt.Errorf("unknown role %q (valid: %s)", listRole, strings.Join(skills.Roles, ", "))
	}

	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	list := rt.registry.List(listRole)
	if len(list) == 0 {
		fmt.Println("no skills registered")
		return nil
	}

	fmt.Printf("%-20s %-18s %-8s %6s %7s  %s\n", "NAME", "ROLE", "SOURCE", "PARAMS", "PHRASES", "DESCRIPTION")
	for _, s := range list {
		source := "user"
		if s.Verified {
			source = "builtin"
		}
		fmt.Printf("%-20s %-18s %-8s %6d %7d  %s\n",
			s.Name, s.Role, source, len(s.Parameters), len(s.VibePhrases), truncate(s.Description, 60))
	}
	fmt.Printf("\n%d skill(s)\n", len(list))
	return nil
}

func runSkillsShow(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	s, err := rt.registry.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s\n%s\n\n", s.Name, strings.Repeat("=", len(s.Name)))
	fmt.Printf("  %s\n\n", s.Description)
	fmt.Printf("  role:     %s\n", s.Role)
	fmt.Printf("  verified: %t\n", s.Verified)
	if len(s.Tags) > 0 {
		fmt.Printf("  tags:     %s\n", strings.Join(s.Tags, ", "))
	}
	if s.ExecutionCount > 0 {
		fmt.Printf("  runs:     %d (%.0f%% ok, mean %.0fms)\n", s.ExecutionCount, s.SuccessRate*100, s.AverageMs)
	}

	if len(s.Parameters) > 0 {
		fmt.Println("\n  parameters:")
		for _, p := range s.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Printf("    %-14s %-8s %-9s %s\n", p.Name, p.Kind, req, p.Description)
		}
	}

	if len(s.VibePhrases) > 0 {
		fmt.Println("\n  vibe phrases:")
		for _, phrase := range s.VibePhrases {
			fmt.Printf("    - %s\n", phrase)
		}
	}

	fmt.Println("\n  source:")
	for _, line := range strings.Split(strings.TrimRight(s.Source, "\n"), "\n") {
		fmt.Printf("    %s\n", line)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
