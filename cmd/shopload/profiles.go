package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"shopload/internal/config"
	"shopload/internal/profile"
)

func newProfilesCmd() *cobra.Command {
	v := config.NewViper()
	var configPath string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Show the user profiles and task mix a run would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, v)
			if err != nil {
				return err
			}
			profiles, err := cfg.BuildProfiles()
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			printProfiles(cmd.OutOrStdout(), profiles)
			return nil
		},
	}
	commonFlags(cmd.Flags(), v, &configPath)
	return cmd
}

func printProfiles(w io.Writer, profiles []profile.Profile) {
	shares := profile.Shares(profiles)
	for _, p := range profiles {
		if p.Weight == 0 {
			fmt.Fprintf(w, "%s: disabled\n", p.Name)
			continue
		}
		fmt.Fprintf(w, "%s: weight %d (%.1f%%), pacing %s-%s, %s\n",
			p.Name, p.Weight, shares[p.Name]*100, p.Pacing.Min, p.Pacing.Max, p.Selection.Kind)

		switch p.Selection.Kind {
		case profile.Weighted:
			picker, err := profile.NewPicker(p.Selection.Weighted)
			if err != nil {
				fmt.Fprintf(w, "  invalid: %v\n", err)
				continue
			}
			for _, wt := range p.Selection.Weighted {
				fmt.Fprintf(w, "  %-12s %-22s weight %-3d %5.1f%%\n",
					wt.Task.Key, p.Prefix+string(wt.Task.Op), wt.Weight, picker.Probability(wt.Task)*100)
			}
		case profile.Sequential:
			for i, t := range p.Selection.Sequence {
				fmt.Fprintf(w, "  %d. %-12s %s\n", i+1, t.Key, p.Prefix+string(t.Op))
			}
		}
	}
}
